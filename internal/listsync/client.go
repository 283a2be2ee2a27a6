package listsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrStale marks a response that arrived after its binding was rebound
// or released; the outcome is discarded instead of being applied to a
// target that no longer matches the gesture.
var ErrStale = errors.New("stale response discarded")

// OutcomeError carries the human-readable error markup of a failed
// outcome. Callers distinguish nothing beyond success and failure.
type OutcomeError struct {
	Content string
}

func (e *OutcomeError) Error() string {
	return "action failed: " + e.Content
}

// Binding ties a UI action to the target row it acts on. Each binding
// carries a generation token renewed on rebind, and a busy flag
// driving the idle → busy → idle state machine around a round trip.
type Binding struct {
	mu       sync.Mutex
	target   string
	view     *ListView
	gen      string
	busy     bool
	throbber bool
}

// Target returns the row id the binding acts on.
func (b *Binding) Target() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.target
}

// Busy reports whether a round trip is in flight for this binding.
func (b *Binding) Busy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.busy
}

// ThrobberVisible reports whether the busy placeholder occupies the
// target element.
func (b *Binding) ThrobberVisible() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.throbber
}

// Rebind renews the generation token, marking any in-flight response
// as stale.
func (b *Binding) Rebind(target string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = target
	b.gen = uuid.NewString()
	b.busy = false
	b.throbber = false
}

// Client issues asynchronous requests against the registry's HTTP
// surface and applies each returned outcome to the bound list view.
type Client struct {
	baseURL   string
	http      *http.Client
	authToken string

	// Signals scoped to the target element. OnActionStart fires
	// synchronously before the request; OnActionStop fires when the
	// response resolves, before outcome application.
	OnActionStart func(target string)
	OnActionStop  func(target string)
}

// NewClient creates a client for the given API base URL. httpClient
// may be nil, in which case http.DefaultClient is used (timeouts are
// left to transport defaults).
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// SetAuthToken sets the bearer token attached to every request.
func (c *Client) SetAuthToken(token string) {
	c.authToken = token
}

// Bind creates a binding between a target row and the view it lives in.
func (c *Client) Bind(target string, view *ListView) *Binding {
	return &Binding{target: target, view: view, gen: uuid.NewString()}
}

// Get issues a GET for the binding and applies the outcome.
func (c *Client) Get(ctx context.Context, b *Binding, path string) (*Outcome, error) {
	return c.do(ctx, b, http.MethodGet, path, nil)
}

// Post issues a form POST for the binding and applies the outcome.
func (c *Client) Post(ctx context.Context, b *Binding, path string, form url.Values) (*Outcome, error) {
	return c.do(ctx, b, http.MethodPost, path, form)
}

// Fetch issues a request without a binding and returns the raw
// outcome; nothing is applied. Used for loading fragments.
func (c *Client) Fetch(ctx context.Context, method, path string, form url.Values) (*Outcome, error) {
	req, err := c.newRequest(ctx, method, path, form)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return DecodeOutcome(resp.Body)
}

func (c *Client) newRequest(ctx context.Context, method, path string, form url.Values) (*http.Request, error) {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	return req, nil
}

// do runs one idle → busy → idle invocation: action-start strictly
// precedes the request and action-stop strictly precedes outcome
// application. A response whose generation token no longer matches
// the binding is discarded.
func (c *Client) do(ctx context.Context, b *Binding, method, path string, form url.Values) (*Outcome, error) {
	b.mu.Lock()
	gen := b.gen
	target := b.target
	view := b.view
	b.busy = true
	b.throbber = true
	b.mu.Unlock()

	if c.OnActionStart != nil {
		c.OnActionStart(target)
	}

	stop := func() {
		b.mu.Lock()
		if b.gen == gen {
			b.busy = false
			b.throbber = false
		}
		b.mu.Unlock()
		if c.OnActionStop != nil {
			c.OnActionStop(target)
		}
	}

	req, err := c.newRequest(ctx, method, path, form)
	if err != nil {
		stop()
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		stop()
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	stop()

	out, err := DecodeOutcome(resp.Body)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	stale := b.gen != gen
	b.mu.Unlock()
	if stale {
		log.Debug().Str("target", target).Msg("discarding response for rebound target")
		return nil, ErrStale
	}

	if !out.Status {
		return out, &OutcomeError{Content: out.Content}
	}

	if view != nil {
		if err := view.Apply(out, target); err != nil {
			return out, err
		}
	}
	return out, nil
}
