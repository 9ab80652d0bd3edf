// Package registry fetches and normalises package metadata from ecosystem
// registries.
//
// One logical operation is exposed: fetch the metadata record for a
// (name, version, ecosystem) triple. The client consults the cache before
// the network, applies a hard per-request timeout, retries transient
// failures once, and treats a 404 as a legitimate not-found result that is
// cached briefly.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/quay/zlog"
	"golang.org/x/time/rate"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/cache"
	"github.com/chainlock/chainlock/ecosystem"
	"github.com/chainlock/chainlock/internal/httputil"
)

// Metadata is the normalised record for one package version.
type Metadata struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	PublishedAt time.Time         `json:"published_at,omitzero"`
	Maintainers []string          `json:"maintainers,omitempty"`
	// Downloads is a weekly count; -1 when the registry doesn't expose one.
	Downloads    int64             `json:"downloads"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	// Scripts is the version's raw scripts map. The npm version document
	// carries one; the PyPI JSON API exposes nothing comparable.
	Scripts    map[string]string `json:"scripts,omitempty"`
	Deprecated string            `json:"deprecated,omitempty"`
	// Latest is the registry's current latest version for the package.
	Latest string `json:"latest,omitempty"`
}

// Release is one entry in a package's publish timeline.
type Release struct {
	Version    string    `json:"version"`
	ReleasedAt time.Time `json:"released_at,omitzero"`
}

// History is the package-level record used by the reputation and
// supply-chain stages.
type History struct {
	Name           string    `json:"name"`
	Latest         string    `json:"latest"`
	FirstPublished time.Time `json:"first_published,omitzero"`
	Maintainers    []string  `json:"maintainers,omitempty"`
	Releases       []Release `json:"releases,omitempty"`
	// DependenciesByVersion is sparse; only versions the registry reports
	// dependency sets for are present.
	DependenciesByVersion map[string]map[string]string `json:"dependencies_by_version,omitempty"`
}

const (
	requestTimeout = 3 * time.Second
	// perHostRate is requests per second against one registry host.
	perHostRate = 20
)

// Option controls the configuration of a Client.
type Option func(*Client)

// WithClient sets the http.Client used for requests.
func WithClient(c *http.Client) Option {
	return func(r *Client) { r.c = c }
}

// WithCache sets the cache backend.
func WithCache(s cache.Store) Option {
	return func(r *Client) { r.store = s }
}

// WithRoot overrides the registry root URL for an ecosystem. Used in tests
// and for private mirrors.
func WithRoot(e chainlock.Ecosystem, root string) Option {
	return func(r *Client) { r.roots[e] = root }
}

// WithLimiter replaces the default per-host rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(r *Client) { r.limiter = l }
}

// Client is the registry metadata client.
type Client struct {
	c       *http.Client
	store   cache.Store
	limiter *rate.Limiter
	roots   map[chainlock.Ecosystem]string
}

// New returns a configured Client.
func New(opts ...Option) *Client {
	r := &Client{
		c:       &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Limit(perHostRate), perHostRate),
		roots:   make(map[chainlock.Ecosystem]string),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// rewrite points u at a configured root override, if any.
func (r *Client) rewrite(e chainlock.Ecosystem, rawurl string) string {
	root, ok := r.roots[e]
	if !ok {
		return rawurl
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return rawurl
	}
	o, err := url.Parse(root)
	if err != nil {
		return rawurl
	}
	u.Scheme, u.Host = o.Scheme, o.Host
	return u.String()
}

// FetchMetadata returns the normalised metadata for ref.
//
// The version on the ref must be concrete or empty; specifier ranges are
// never appended to registry URLs. An empty version fetches the latest.
// A 404 returns an error matching chainlock.ErrNotFound.
func (r *Client) FetchMetadata(ctx context.Context, ref chainlock.PackageRef) (*Metadata, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "registry/Client.FetchMetadata",
		"package", ref.String())
	h, err := ecosystem.Get(ref.Ecosystem)
	if err != nil {
		return nil, err
	}
	key := cache.Key("registry", string(ref.Ecosystem), chainlock.NormalizeName(ref.Ecosystem, ref.Name), ref.Version)
	if r.store != nil {
		if b, age, err := r.store.Get(ctx, cache.NamespaceRegistry, key); err == nil {
			var cached cachedResult
			if err := json.Unmarshal(b, &cached); err == nil {
				zlog.Debug(ctx).Dur("age", age).Msg("cache hit")
				if cached.NotFound {
					return nil, &chainlock.Error{Op: "registry.FetchMetadata", Kind: chainlock.ErrNotFound, Message: ref.String()}
				}
				return cached.Metadata, nil
			}
		}
	}

	pinned, latest := h.MetadataURL(ref.Name, ref.Version)
	uri := pinned
	if ref.Version == "" {
		uri = latest
	}
	body, err := r.get(ctx, ref.Ecosystem, uri)
	if err != nil {
		if errors404(err) {
			r.putCache(ctx, key, cachedResult{NotFound: true}, cache.NotFoundTTL)
			return nil, err
		}
		return nil, err
	}

	var md *Metadata
	switch ref.Ecosystem {
	case chainlock.NPM:
		md, err = decodeNPMVersion(body)
	case chainlock.PyPI:
		md, err = decodePyPIVersion(body)
	default:
		return nil, fmt.Errorf("registry: no decoder for %q", ref.Ecosystem)
	}
	if err != nil {
		return nil, &chainlock.Error{Op: "registry.FetchMetadata", Kind: chainlock.ErrUpstreamSchema, Inner: err}
	}
	r.putCache(ctx, key, cachedResult{Metadata: md}, 0)
	return md, nil
}

// FetchHistory returns the package-level publish history for name.
func (r *Client) FetchHistory(ctx context.Context, e chainlock.Ecosystem, name string) (*History, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "registry/Client.FetchHistory",
		"package", name)
	h, err := ecosystem.Get(e)
	if err != nil {
		return nil, err
	}
	key := cache.Key("registry-history", string(e), chainlock.NormalizeName(e, name))
	if r.store != nil {
		if b, _, err := r.store.Get(ctx, cache.NamespaceRegistry, key); err == nil {
			var hist History
			if err := json.Unmarshal(b, &hist); err == nil {
				return &hist, nil
			}
		}
	}

	var uri string
	switch e {
	case chainlock.NPM:
		// The packument lives at the bare package URL.
		_, latest := h.MetadataURL(name, "")
		u, err := url.Parse(latest)
		if err != nil {
			return nil, err
		}
		u.Path = u.Path[:len(u.Path)-len("/latest")]
		uri = u.String()
	case chainlock.PyPI:
		_, uri = h.MetadataURL(name, "")
	default:
		return nil, fmt.Errorf("registry: no history decoder for %q", e)
	}
	body, err := r.get(ctx, e, uri)
	if err != nil {
		return nil, err
	}

	var hist *History
	switch e {
	case chainlock.NPM:
		hist, err = decodeNPMPackument(body)
	case chainlock.PyPI:
		hist, err = decodePyPIProject(body)
	}
	if err != nil {
		return nil, &chainlock.Error{Op: "registry.FetchHistory", Kind: chainlock.ErrUpstreamSchema, Inner: err}
	}
	if r.store != nil {
		if b, err := json.Marshal(hist); err == nil {
			r.store.Put(ctx, cache.NamespaceRegistry, key, b, 0)
		}
	}
	return hist, nil
}

type cachedResult struct {
	NotFound bool      `json:"not_found,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

func (r *Client) putCache(ctx context.Context, key string, v cachedResult, ttl time.Duration) {
	if r.store == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.store.Put(ctx, cache.NamespaceRegistry, key, b, ttl); err != nil {
		zlog.Warn(ctx).Err(err).Msg("cache write failed")
	}
}

// get issues the request with one retry on transient failure.
func (r *Client) get(ctx context.Context, e chainlock.Ecosystem, uri string) ([]byte, error) {
	uri = r.rewrite(e, uri)
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, &chainlock.Error{Op: "registry.get", Kind: chainlock.ErrCancelled, Inner: err}
		}
		b, err := r.getOnce(ctx, uri)
		switch {
		case err == nil:
			return b, nil
		case chainlock.Transient(err):
			lastErr = err
			continue
		default:
			return nil, err
		}
	}
	return nil, lastErr
}

func (r *Client) getOnce(ctx context.Context, uri string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("registry: martian request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	res, err := r.c.Do(req)
	if err != nil {
		return nil, httputil.ClassifyErr("registry.get", err)
	}
	defer res.Body.Close()
	if err := httputil.CheckResponse(res, http.StatusOK); err != nil {
		return nil, err
	}
	return readAllLimited(res.Body)
}

func errors404(err error) bool {
	return errors.Is(err, chainlock.ErrNotFound)
}
