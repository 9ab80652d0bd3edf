// Package llm talks to an OpenAI-compatible chat completion endpoint.
//
// The analyser treats the LLM as a best-effort collaborator: every caller
// must have a deterministic path for when the endpoint is unconfigured,
// unreachable, or returns something unusable. ErrUnavailable signals all
// three conditions.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/quay/zlog"

	"github.com/chainlock/chainlock/cache"
)

// ErrUnavailable is returned when no completion can be produced. Callers
// fall back to their deterministic path.
var ErrUnavailable = errors.New("llm: endpoint unavailable")

// Request is one completion request.
type Request struct {
	System string
	Prompt string
	// JSONMode requests a JSON object response from endpoints that support
	// structured output.
	JSONMode  bool
	MaxTokens int
}

// Client produces completions.
type Client interface {
	// Complete returns the completion text for req. The error matches
	// ErrUnavailable when the endpoint cannot serve the request; callers
	// must degrade.
	Complete(ctx context.Context, req *Request) (string, error)
}

// Option controls the configuration of an OpenAI client.
type Option func(*OpenAI)

// WithRoot overrides the API root.
func WithRoot(root string) Option {
	return func(c *OpenAI) { c.root = root }
}

// WithModel selects the model.
func WithModel(model string) Option {
	return func(c *OpenAI) { c.model = model }
}

// WithCache sets the cache backend. Completions are cached for days; prompts
// are deterministic functions of run input, so the hit rate across re-runs
// is high.
func WithCache(s cache.Store) Option {
	return func(c *OpenAI) { c.store = s }
}

// WithHTTPClient replaces the retrying HTTP client.
func WithHTTPClient(hc *retryablehttp.Client) Option {
	return func(c *OpenAI) { c.c = hc }
}

var _ Client = (*OpenAI)(nil)

// OpenAI is a Client for OpenAI-compatible chat completion APIs.
type OpenAI struct {
	c     *retryablehttp.Client
	root  string
	model string
	key   string
	store cache.Store
}

const (
	defaultRoot  = `https://api.openai.com/`
	defaultModel = `gpt-4o-mini`
)

// NewOpenAI returns a client authenticating with key. An empty key yields a
// client whose Complete always reports ErrUnavailable.
func NewOpenAI(key string, opts ...Option) *OpenAI {
	c := &OpenAI{
		root:  defaultRoot,
		model: defaultModel,
		key:   key,
	}
	for _, o := range opts {
		o(c)
	}
	if c.c == nil {
		c.c = retryablehttp.NewClient()
		c.c.RetryMax = 2
		c.c.RetryWaitMin = time.Second
		c.c.HTTPClient.Timeout = 60 * time.Second
		c.c.Logger = nil
	}
	return c
}

// Configured reports whether the client has a credential.
func (c *OpenAI) Configured() bool { return c.key != "" }

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete implements Client.
func (c *OpenAI) Complete(ctx context.Context, req *Request) (string, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "llm/OpenAI.Complete")
	if !c.Configured() {
		return "", ErrUnavailable
	}
	key := cache.Key("llm", c.model, req.System, req.Prompt, fmt.Sprint(req.JSONMode))
	if c.store != nil {
		if b, age, err := c.store.Get(ctx, cache.NamespaceLLM, key); err == nil {
			zlog.Debug(ctx).Dur("age", age).Msg("cache hit")
			return string(b), nil
		}
	}

	out, err := c.complete(ctx, req)
	if err != nil {
		zlog.Warn(ctx).Err(err).Msg("completion failed")
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if c.store != nil {
		if err := c.store.Put(ctx, cache.NamespaceLLM, key, []byte(out), 0); err != nil {
			zlog.Warn(ctx).Err(err).Msg("cache write failed")
		}
	}
	return out, nil
}

func (c *OpenAI) complete(ctx context.Context, req *Request) (string, error) {
	cr := chatRequest{
		Model:     c.model,
		MaxTokens: req.MaxTokens,
	}
	if req.System != "" {
		cr.Messages = append(cr.Messages, chatMessage{Role: "system", Content: req.System})
	}
	cr.Messages = append(cr.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.JSONMode {
		cr.ResponseFormat = &respFormat{Type: "json_object"}
	}
	body, err := json.Marshal(&cr)
	if err != nil {
		return "", err
	}
	u, err := url.JoinPath(c.root, "/v1/chat/completions")
	if err != nil {
		return "", err
	}
	hreq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	hreq.Header.Set("content-type", "application/json")
	hreq.Header.Set("authorization", "Bearer "+c.key)
	res, err := c.c.Do(hreq)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm: unexpected HTTP response: %d (%s)", res.StatusCode, res.Status)
	}
	var doc chatResponse
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return "", err
	}
	if len(doc.Choices) == 0 {
		return "", errors.New("llm: response carried no choices")
	}
	return doc.Choices[0].Message.Content, nil
}
