// Package controller owns the run lifecycle.
//
// A single run is permitted at a time; the state machine is
// idle → running → (completed | failed | cancelled) → idle, with the
// terminal state visible until the next run starts. The external UI or HTTP
// layer polls Status; no transport is imposed.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quay/zlog"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/internal/ringbuf"
)

// State is the controller's externally visible state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// ErrBusy is returned by Start when a run is already active.
var ErrBusy = errors.New("controller: a run is already active")

// logSize bounds the in-memory run log.
const logSize = 1024

// LogRecord is one line of the run's progress log. Records never contain
// secrets.
type LogRecord struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// StartOptions parameterise one run.
type StartOptions struct {
	// Target is a local path or a repository URL.
	Target    string
	Ecosystem chainlock.Ecosystem
	// ConfidenceThreshold filters findings below it out of the report.
	ConfidenceThreshold float64
	// SkipExternal disables external vulnerability queries.
	SkipExternal bool
}

// Status is the poll surface for the UI collaborator.
type Status struct {
	State      State       `json:"state"`
	StartedAt  time.Time   `json:"started_at,omitzero"`
	EndedAt    time.Time   `json:"ended_at,omitzero"`
	Log        []LogRecord `json:"log"`
	ResultPath string      `json:"result_path,omitempty"`
}

// RunFunc executes one analysis and returns the path of the written report.
// Cancellation arrives through the context.
type RunFunc func(ctx context.Context, log *Logger, opts *StartOptions) (string, error)

// Controller is the run state machine.
type Controller struct {
	run RunFunc

	mu         sync.Mutex
	state      State
	startedAt  time.Time
	endedAt    time.Time
	log        ringbuf.Buf[LogRecord]
	cancel     context.CancelFunc
	resultPath string
}

// New returns an idle Controller that executes runs with fn.
func New(fn RunFunc) *Controller {
	c := &Controller{run: fn, state: StateIdle}
	c.log.Init(logSize)
	return c
}

// Logger appends to a run's log. It is handed to the RunFunc so the analysis
// can narrate progress without holding a reference to the Controller.
type Logger struct {
	c *Controller
}

// Append adds a record. Safe for concurrent use.
func (l *Logger) Append(level, format string, args ...any) {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	l.c.log.Push(LogRecord{
		Time:    time.Now(),
		Level:   level,
		Message: fmt.Sprintf(format, args...),
	})
}

// Start begins a run. It returns ErrBusy while a run is active. The previous
// run's log and result are discarded.
func (c *Controller) Start(ctx context.Context, opts *StartOptions) error {
	c.mu.Lock()
	if c.state == StateRunning {
		c.mu.Unlock()
		return ErrBusy
	}
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.state = StateRunning
	c.startedAt = time.Now()
	c.endedAt = time.Time{}
	c.resultPath = ""
	c.cancel = cancel
	c.log.Init(logSize)
	c.mu.Unlock()

	zlog.Info(ctx).Str("target", opts.Target).Msg("run starting")
	go c.drive(rctx, opts)
	return nil
}

func (c *Controller) drive(ctx context.Context, opts *StartOptions) {
	log := &Logger{c: c}
	log.Append("INFO", "analysis started for %s", opts.Target)
	path, err := c.run(ctx, log, opts)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.endedAt = time.Now()
	c.cancel = nil
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, chainlock.ErrCancelled):
		c.state = StateCancelled
		log.append("WARNING", "analysis cancelled")
	case err != nil:
		c.state = StateFailed
		log.append("ERROR", "analysis failed: %v", err)
	default:
		c.state = StateCompleted
		c.resultPath = path
		log.append("INFO", "analysis complete, report at %s", path)
	}
}

// append is Append without locking, for callers already holding the mutex.
func (l *Logger) append(level, format string, args ...any) {
	l.c.log.Push(LogRecord{
		Time:    time.Now(),
		Level:   level,
		Message: fmt.Sprintf(format, args...),
	})
}

// Status reports the current state and a copy of the log.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:      c.state,
		StartedAt:  c.startedAt,
		EndedAt:    c.endedAt,
		Log:        c.log.Snapshot(),
		ResultPath: c.resultPath,
	}
}

// Cancel signals the active run. Cancellation propagates through the run's
// context into every pool and any child subprocess. Cancelling an idle
// controller is a no-op.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
