// Package osv queries the OSV vulnerability database.
//
// The API accepts one package per request, so the client fans a batch out
// across a bounded set of in-flight queries. The batch never fails as a
// whole: an unreachable API yields an offline result, and a failed query is
// recorded against its ref while the rest of the batch proceeds.
package osv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/quay/zlog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/cache"
	"github.com/chainlock/chainlock/internal/httputil"
)

// DefaultRoot is the production OSV API endpoint.
const DefaultRoot = `https://api.osv.dev/`

const (
	queryPath      = `/v1/query`
	requestTimeout = 3 * time.Second
	dnsTimeout     = time.Second
	// DefaultConcurrency bounds in-flight queries per batch.
	DefaultConcurrency = 10
)

// Status reports whether the API was reachable for a batch.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Result is the per-ref outcome of a batch query.
type Result struct {
	Vulns []chainlock.Vulnerability
	Err   error
}

// Batch is the outcome of one QueryBatch call.
type Batch struct {
	Status  Status
	Results map[chainlock.PackageRef]Result
}

// Option controls the configuration of a Client.
type Option func(*Client)

// WithClient sets the http.Client used for requests.
func WithClient(c *http.Client) Option {
	return func(o *Client) { o.c = c }
}

// WithCache sets the cache backend.
func WithCache(s cache.Store) Option {
	return func(o *Client) { o.store = s }
}

// WithRoot overrides the API root. Used in tests.
func WithRoot(root string) Option {
	return func(o *Client) { o.root = root }
}

// WithConcurrency bounds in-flight queries.
func WithConcurrency(n int64) Option {
	return func(o *Client) { o.concurrency = n }
}

// Client queries OSV.
type Client struct {
	c           *http.Client
	store       cache.Store
	root        string
	concurrency int64
	resolver    *net.Resolver
}

// New returns a configured Client.
func New(opts ...Option) *Client {
	c := &Client{
		c:           &http.Client{Timeout: requestTimeout},
		root:        DefaultRoot,
		concurrency: DefaultConcurrency,
		resolver:    net.DefaultResolver,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Reachable reports whether the API host resolves. The check is bounded at
// one second so an offline environment is detected quickly.
func (c *Client) Reachable(ctx context.Context) bool {
	u, err := url.Parse(c.root)
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()
	_, err = c.resolver.LookupHost(ctx, u.Hostname())
	return err == nil
}

// QueryBatch queries every ref and returns the per-ref results.
//
// When the API host does not resolve the batch returns immediately with
// Status set to StatusOffline and no results; callers continue without
// vulnerability data.
func (c *Client) QueryBatch(ctx context.Context, refs []chainlock.PackageRef) (*Batch, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "osv/Client.QueryBatch")
	b := &Batch{
		Status:  StatusOnline,
		Results: make(map[chainlock.PackageRef]Result, len(refs)),
	}
	if len(refs) == 0 {
		return b, nil
	}
	if !c.Reachable(ctx) {
		zlog.Warn(ctx).Str("root", c.root).Msg("vulnerability database unreachable, continuing without")
		b.Status = StatusOffline
		return b, nil
	}

	type keyed struct {
		ref chainlock.PackageRef
		res Result
	}
	out := make([]keyed, len(refs))
	sem := semaphore.NewWeighted(c.concurrency)
	eg, qctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		i, ref := i, ref
		eg.Go(func() error {
			if err := sem.Acquire(qctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			vulns, err := c.Query(qctx, ref)
			out[i] = keyed{ref: ref, res: Result{Vulns: vulns, Err: err}}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, &chainlock.Error{Op: "osv.QueryBatch", Kind: chainlock.ErrCancelled, Inner: err}
	}
	for _, kv := range out {
		b.Results[kv.ref] = kv.res
	}
	return b, nil
}

// Query fetches the advisories for a single ref.
func (c *Client) Query(ctx context.Context, ref chainlock.PackageRef) ([]chainlock.Vulnerability, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "osv/Client.Query",
		"package", ref.String())
	key := cache.Key("osv", string(ref.Ecosystem), chainlock.NormalizeName(ref.Ecosystem, ref.Name), ref.Version)
	if c.store != nil {
		if raw, age, err := c.store.Get(ctx, cache.NamespaceOSV, key); err == nil {
			var vulns []chainlock.Vulnerability
			if err := json.Unmarshal(raw, &vulns); err == nil {
				zlog.Debug(ctx).Dur("age", age).Msg("cache hit")
				return vulns, nil
			}
		}
	}

	doc, err := c.query(ctx, ref)
	if err != nil {
		return nil, err
	}
	vulns := make([]chainlock.Vulnerability, 0, len(doc.Vulns))
	for i := range doc.Vulns {
		vulns = append(vulns, convert(ref, &doc.Vulns[i]))
	}
	if c.store != nil {
		if raw, err := json.Marshal(vulns); err == nil {
			if err := c.store.Put(ctx, cache.NamespaceOSV, key, raw, 0); err != nil {
				zlog.Warn(ctx).Err(err).Msg("cache write failed")
			}
		}
	}
	return vulns, nil
}

func (c *Client) query(ctx context.Context, ref chainlock.PackageRef) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	q := query{
		Version: ref.Version,
		Package: queryPackage{
			Name:      ref.Name,
			Ecosystem: ref.Ecosystem.OSVName(),
		},
	}
	body, err := json.Marshal(&q)
	if err != nil {
		return nil, err
	}
	u, err := url.JoinPath(c.root, queryPath)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("osv: martian request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	res, err := c.c.Do(req)
	if err != nil {
		return nil, httputil.ClassifyErr("osv.query", err)
	}
	defer res.Body.Close()
	if err := httputil.CheckResponse(res, http.StatusOK); err != nil {
		return nil, err
	}
	var doc response
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, &chainlock.Error{Op: "osv.query", Kind: chainlock.ErrUpstreamSchema, Inner: err}
	}
	return &doc, nil
}

// dbSeverity digs the severity word out of database_specific, when present.
func dbSeverity(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var ds struct {
		Severity string `json:"severity"`
	}
	if err := json.Unmarshal(raw, &ds); err != nil {
		return ""
	}
	return ds.Severity
}

// convert maps one advisory onto the analyser's vulnerability record.
func convert(ref chainlock.PackageRef, adv *advisory) chainlock.Vulnerability {
	score, sev := scoreAdvisory(adv.Severity, dbSeverity(adv.DatabaseSpecific))
	v := chainlock.Vulnerability{
		ID:               adv.ID,
		Aliases:          adv.Aliases,
		Summary:          adv.Summary,
		Details:          adv.Details,
		CVSSScore:        score,
		Severity:         sev,
		AffectedVersions: affectedVersions(adv.Affected),
		FixedVersions:    fixedVersions(adv.Affected),
		CurrentAffected:  affectedness(ref.Ecosystem, ref.Version, adv.Affected),
	}
	for _, r := range adv.References {
		v.References = append(v.References, r.URL)
	}
	switch v.CurrentAffected {
	case chainlock.AffectedYes:
		v.Status = chainlock.VulnActive
	case chainlock.AffectedNo:
		if len(v.FixedVersions) != 0 {
			v.Status = chainlock.VulnFixed
		} else {
			v.Status = chainlock.VulnNotApplicable
		}
	default:
		v.Status = chainlock.VulnNotAvailable
	}
	return v
}
