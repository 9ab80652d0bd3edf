package cache

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	getCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chainlock",
		Subsystem: "cache",
		Name:      "get_total",
		Help:      "Total cache lookups by namespace and result.",
	}, []string{"namespace", "result"})
	putCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chainlock",
		Subsystem: "cache",
		Name:      "put_total",
		Help:      "Total cache writes by namespace.",
	}, []string{"namespace"})
)

var _ Store = (*Instrumented)(nil)

// Instrumented wraps a Store with prometheus counters.
type Instrumented struct {
	Store
}

// Instrument wraps s.
func Instrument(s Store) *Instrumented {
	return &Instrumented{Store: s}
}

// Get implements Store.
func (i *Instrumented) Get(ctx context.Context, ns Namespace, key string) ([]byte, time.Duration, error) {
	v, age, err := i.Store.Get(ctx, ns, key)
	res := "hit"
	if err != nil {
		res = "miss"
	}
	getCounter.WithLabelValues(string(ns), res).Inc()
	return v, age, err
}

// Put implements Store.
func (i *Instrumented) Put(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error {
	putCounter.WithLabelValues(string(ns)).Inc()
	return i.Store.Put(ctx, ns, key, value, ttl)
}
