package helix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/bjoelf/twitch-adapter/twitch"
)

const (
	defaultTimeout = 30 * time.Second
	maxAttempts    = 5 // transport/5xx retry budget per request
)

// TokenProvider is what the pipeline needs from the auth layer. Implemented
// by *auth.Provider.
type TokenProvider interface {
	ClientID() string
	Kind() twitch.TokenKind
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
	Invalidate()
	UserID() string
	Scopes() []string
}

// Client builds, signs, sends and validates Helix requests. Safe for
// concurrent use.
type Client struct {
	baseURL string
	httpc   *http.Client
	limiter *RateLimiter
	logger  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient substitutes the transport, used by tests to reach mock
// servers.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpc = c }
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// NewClient builds a client against the given Helix base URL (no trailing
// slash).
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpc:   http.DefaultClient,
		logger:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.limiter = NewRateLimiter(c.logger)
	return c
}

// Result is a successful, schema-validated Helix response.
type Result struct {
	Status int
	Header http.Header
	Raw    json.RawMessage
	Cursor string // pagination cursor, empty on the last page
}

// Decode unmarshals the response body into v.
func (r *Result) Decode(v any) error {
	if len(r.Raw) == 0 {
		return nil
	}
	return json.Unmarshal(r.Raw, v)
}

// Do runs the full request pipeline for one endpoint call: auth-kind and
// scope preflight, schema validation of inputs, rate-limit admission,
// bearer signing, one automatic refresh-and-retry on 401, one automatic
// wait-and-retry on 429, and schema validation of the response.
func (c *Client) Do(ctx context.Context, ep *Endpoint, provider TokenProvider, query url.Values, body any) (*Result, error) {
	isUser := provider.Kind() == twitch.TokenUser
	if !ep.acceptsKind(isUser) {
		return nil, fmt.Errorf("%w: %s does not accept %s tokens", twitch.ErrAuthUnsupported, ep.Name, provider.Kind())
	}
	if isUser && ep.RequiredScope != nil && !ep.RequiredScope.Satisfies(provider.Scopes()) {
		return nil, fmt.Errorf("%w: %s requires %s", twitch.ErrScopeMissing, ep.Name, ep.RequiredScope)
	}

	if err := c.validateQuery(ep, query); err != nil {
		return nil, err
	}
	bodyJSON, err := c.validateBody(ep, body)
	if err != nil {
		return nil, err
	}

	key := BucketKey(provider.ClientID(), provider.UserID())
	refreshed := false
	rateRetried := false

	for {
		resp, raw, err := c.send(ctx, ep, provider, key, query, bodyJSON)
		if err != nil {
			return nil, err
		}

		switch {
		case ep.isSuccess(resp.StatusCode):
			return c.finish(ep, resp, raw)

		case resp.StatusCode == http.StatusUnauthorized:
			provider.Invalidate()
			if refreshed {
				return nil, fmt.Errorf("%w: %s still rejected after refresh", twitch.ErrUnauthenticated, ep.Name)
			}
			refreshed = true
			c.logger.Debug().Str("endpoint", ep.Name).Msg("401 received, refreshing token for one retry")
			if err := provider.Refresh(ctx); err != nil {
				return nil, fmt.Errorf("%w: refresh after 401 failed: %v", twitch.ErrUnauthenticated, err)
			}

		case resp.StatusCode == http.StatusTooManyRequests:
			reset, ok := resetInstant(resp.Header)
			if rateRetried || !ok {
				return nil, fmt.Errorf("%w: %s", twitch.ErrRateLimited, ep.Name)
			}
			rateRetried = true
			c.logger.Debug().Str("endpoint", ep.Name).Time("reset", reset).Msg("429 received, waiting for bucket reset")
			if err := c.limiter.WaitUntil(ctx, key, reset); err != nil {
				return nil, err
			}

		default:
			if ep.isKnownError(resp.StatusCode) {
				return nil, apiError(resp.StatusCode, raw)
			}
			return nil, fmt.Errorf("%w: %s returned unexpected status %d", twitch.ErrProtocol, ep.Name, resp.StatusCode)
		}
	}
}

// Pages returns a pager that re-runs the call with after=<cursor> until the
// server stops returning one.
func (c *Client) Pages(ep *Endpoint, provider TokenProvider, query url.Values, body any) *Pager {
	q := url.Values{}
	for k, vs := range query {
		q[k] = append([]string(nil), vs...)
	}
	return &Pager{c: c, ep: ep, provider: provider, query: q, body: body}
}

// Pager walks a cursor-paginated endpoint lazily. Each Next call performs
// one request; More reports whether another page may exist.
type Pager struct {
	c        *Client
	ep       *Endpoint
	provider TokenProvider
	query    url.Values
	body     any

	started bool
	done    bool
}

// More reports whether Next would perform another request.
func (p *Pager) More() bool { return !p.done }

// Next fetches the next page. Callers should guard with More; calling Next
// on an exhausted pager is an error.
func (p *Pager) Next(ctx context.Context) (*Result, error) {
	if p.done {
		return nil, fmt.Errorf("%w: pager exhausted", twitch.ErrBadRequest)
	}
	res, err := p.c.Do(ctx, p.ep, p.provider, p.query, p.body)
	if err != nil {
		p.done = true
		return nil, err
	}
	p.started = true
	if res.Cursor == "" {
		p.done = true
	} else {
		p.query.Set("after", res.Cursor)
	}
	return res, nil
}

func (c *Client) validateQuery(ep *Endpoint, query url.Values) error {
	if ep.QuerySchema == nil {
		return nil
	}
	m := make(map[string]any, len(query))
	for k, vs := range query {
		if len(vs) > 0 {
			m[k] = vs[0]
		}
	}
	if err := twitch.ValidateValue(ep.QuerySchema, m); err != nil {
		return fmt.Errorf("%w: query for %s: %v", twitch.ErrBadRequest, ep.Name, err)
	}
	return nil
}

func (c *Client) validateBody(ep *Endpoint, body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal body for %s: %v", twitch.ErrBadRequest, ep.Name, err)
	}
	if ep.BodySchema != nil {
		if err := twitch.ValidateJSON(ep.BodySchema, raw); err != nil {
			return nil, fmt.Errorf("%w: body for %s: %v", twitch.ErrBadRequest, ep.Name, err)
		}
	}
	return raw, nil
}

// send performs one admission-gated round trip, retrying network errors and
// 5xx with exponential backoff and full jitter. The returned response body
// is already read and closed.
func (c *Client) send(ctx context.Context, ep *Endpoint, provider TokenProvider, key string, query url.Values, bodyJSON []byte) (*http.Response, []byte, error) {
	if err := c.limiter.Acquire(ctx, key); err != nil {
		return nil, nil, err
	}

	var resp *http.Response
	var raw []byte

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.RandomizationFactor = 1 // full jitter
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, maxAttempts-1), ctx)

	var lastStatus int
	err := backoff.Retry(func() error {
		access, err := provider.AccessToken(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}

		timeout := ep.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := c.buildRequest(attemptCtx, ep, access, provider.ClientID(), query, bodyJSON)
		if err != nil {
			return backoff.Permanent(err)
		}

		r, err := c.httpc.Do(req)
		if err != nil {
			c.logger.Debug().Str("endpoint", ep.Name).Err(err).Msg("request failed, will retry")
			return err
		}
		// Read to completion even on retry so the connection is recycled.
		body, readErr := io.ReadAll(r.Body)
		r.Body.Close()
		if readErr != nil {
			return readErr
		}
		if r.StatusCode >= 500 {
			lastStatus = r.StatusCode
			c.logger.Debug().Str("endpoint", ep.Name).Int("status", r.StatusCode).Msg("server error, will retry")
			return fmt.Errorf("status %d", r.StatusCode)
		}
		resp = r
		raw = body
		return nil
	}, policy)

	c.limiter.Release(key, headerOf(resp))

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, err
		}
		if lastStatus >= 500 {
			return nil, nil, apiError(lastStatus, nil)
		}
		return nil, nil, fmt.Errorf("%w: %s: %v", twitch.ErrTransport, ep.Name, err)
	}
	return resp, raw, nil
}

func (c *Client) buildRequest(ctx context.Context, ep *Endpoint, access, clientID string, query url.Values, bodyJSON []byte) (*http.Request, error) {
	u := c.baseURL + ep.Path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if bodyJSON != nil {
		body = bytes.NewReader(bodyJSON)
	}
	req, err := http.NewRequestWithContext(ctx, ep.Method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", ep.Name, err)
	}
	req.Header.Set("Authorization", "Bearer "+access)
	req.Header.Set("Client-Id", clientID)
	if bodyJSON != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// finish validates the success body against the response schema and lifts
// the pagination cursor out.
func (c *Client) finish(ep *Endpoint, resp *http.Response, raw []byte) (*Result, error) {
	res := &Result{Status: resp.StatusCode, Header: resp.Header}
	if len(raw) == 0 {
		return res, nil
	}
	if err := twitch.ValidateJSON(ep.ResponseSchema, raw); err != nil {
		return nil, fmt.Errorf("response for %s: %w", ep.Name, err)
	}
	res.Raw = raw

	var page struct {
		Pagination struct {
			Cursor string `json:"cursor"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(raw, &page); err == nil {
		res.Cursor = page.Pagination.Cursor
	}
	return res, nil
}

func apiError(status int, raw []byte) error {
	msg := http.StatusText(status)
	var e struct {
		Message string `json:"message"`
	}
	if len(raw) > 0 && json.Unmarshal(raw, &e) == nil && e.Message != "" {
		msg = e.Message
	}
	return &twitch.APIError{Status: status, Message: msg}
}

func headerOf(r *http.Response) http.Header {
	if r == nil {
		return nil
	}
	return r.Header
}
