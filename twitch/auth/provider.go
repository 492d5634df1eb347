package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/bjoelf/twitch-adapter/twitch"
)

// validationMaxAge is how long a validation result is trusted before the
// validate endpoint is consulted again. Twitch requires user tokens to be
// validated no less than hourly.
const validationMaxAge = time.Hour

// Provider wraps a Strategy and owns one cached token. It refreshes the
// token on expiry, validates it periodically and exposes the last-validated
// identity. Safe for concurrent use; all shared state sits behind the mutex
// and concurrent validations collapse into one network round-trip.
type Provider struct {
	strategy  Strategy
	endpoints twitch.Endpoints
	httpc     *http.Client
	logger    zerolog.Logger

	mu          sync.Mutex
	token       *twitch.Token
	userID      string
	login       string
	scopes      []string
	validatedAt time.Time
	invalidated bool

	sf singleflight.Group
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithHTTPClient routes validation traffic (and the strategy's, where the
// strategy supports it) through the given client.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) { p.httpc = c }
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(l zerolog.Logger) ProviderOption {
	return func(p *Provider) { p.logger = l }
}

// NewProvider builds a provider around a strategy and an initial token. The
// initial token may be nil for strategies that can mint one on demand
// (client credentials).
func NewProvider(strategy Strategy, initial *twitch.Token, endpoints twitch.Endpoints, opts ...ProviderOption) *Provider {
	p := &Provider{
		strategy:  strategy,
		endpoints: endpoints,
		httpc:     http.DefaultClient,
		logger:    zerolog.Nop(),
		token:     initial,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ClientID returns the strategy's client id.
func (p *Provider) ClientID() string { return p.strategy.ClientID() }

// Kind returns the kind of token this provider manages.
func (p *Provider) Kind() twitch.TokenKind { return p.strategy.Kind() }

// UserID returns the user id recorded by the last successful validation;
// empty for app tokens or before the first validation.
func (p *Provider) UserID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userID
}

// Login returns the login name recorded by the last successful validation.
func (p *Provider) Login() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.login
}

// Scopes returns the scope set as last seen, preferring the validation
// response over the token's own grant.
func (p *Provider) Scopes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.scopes) > 0 {
		return append([]string(nil), p.scopes...)
	}
	if p.token != nil {
		return append([]string(nil), p.token.Scopes...)
	}
	return nil
}

// SetToken installs a token obtained out-of-band (redirect parsing, device
// polling) and clears any previous invalidation.
func (p *Provider) SetToken(t *twitch.Token) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = t
	p.invalidated = false
	p.validatedAt = time.Time{}
	p.scopes = nil
}

// AccessToken returns a currently-usable bearer string, refreshing first if
// necessary.
func (p *Provider) AccessToken(ctx context.Context) (string, error) {
	t, err := p.Token(ctx)
	if err != nil {
		return "", err
	}
	return t.AccessToken, nil
}

// Token returns a currently-usable token. If the cached token is expired or
// was invalidated it is refreshed once via the strategy; failure to produce
// a usable token is ErrInvalidToken. Twitch rotates refresh tokens, so
// concurrent refreshes share one flight and latecomers take the cached
// result instead of burning the rotated credential.
func (p *Provider) Token(ctx context.Context) (*twitch.Token, error) {
	if p.usable() {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.token, nil
	}
	_, err, _ := p.sf.Do("refresh", func() (any, error) {
		// a caller that queued behind the winning refresh sees a fresh token
		if p.usable() {
			return nil, nil
		}
		return nil, p.refreshOnce(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", twitch.ErrInvalidToken, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token, nil
}

func (p *Provider) usable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token.Usable(time.Now()) && !p.invalidated
}

// Refresh forces a refresh via the strategy, sharing the flight with any
// refresh already underway. Strategies that cannot refresh the current token
// fail with ErrConfig.
func (p *Provider) Refresh(ctx context.Context) error {
	_, err, _ := p.sf.Do("refresh", func() (any, error) {
		return nil, p.refreshOnce(ctx)
	})
	return err
}

func (p *Provider) refreshOnce(ctx context.Context) error {
	p.mu.Lock()
	cur := p.token
	p.mu.Unlock()

	if !p.strategy.CanRefresh(cur) {
		return fmt.Errorf("%w: strategy cannot refresh this token", twitch.ErrConfig)
	}
	fresh, err := p.strategy.Refresh(ctx, cur)
	if err != nil {
		return err
	}
	p.logger.Debug().Time("expiry", fresh.Expiry).Msg("token refreshed")

	p.mu.Lock()
	p.token = fresh
	p.invalidated = false
	p.validatedAt = time.Time{}
	p.scopes = nil
	p.mu.Unlock()
	return nil
}

// Invalidate marks the cached token and its validation result stale, forcing
// a refresh on the next Token call. The Helix pipeline calls this after a
// 401.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.invalidated = true
	p.validatedAt = time.Time{}
	p.mu.Unlock()
}

// Validate consults the validation endpoint if the cached result is older
// than an hour or unknown. Concurrent callers share one in-flight request.
// App-token providers skip the endpoint and rely on the expiry instant.
func (p *Provider) Validate(ctx context.Context) error {
	if p.strategy.Kind() == twitch.TokenApp {
		p.mu.Lock()
		ok := p.token.Usable(time.Now())
		p.mu.Unlock()
		if !ok {
			return twitch.ErrInvalidToken
		}
		return nil
	}

	p.mu.Lock()
	fresh := !p.validatedAt.IsZero() && time.Since(p.validatedAt) < validationMaxAge
	p.mu.Unlock()
	if fresh {
		return nil
	}

	_, err, _ := p.sf.Do("validate", func() (any, error) {
		return nil, p.validateOnce(ctx)
	})
	return err
}

func (p *Provider) validateOnce(ctx context.Context) error {
	access, err := p.AccessToken(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoints.ValidateURL, nil)
	if err != nil {
		return fmt.Errorf("build validate request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+access)

	resp, err := p.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", twitch.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		p.Invalidate()
		return fmt.Errorf("%w: validation endpoint rejected the token", twitch.ErrInvalidToken)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: validate returned %d", twitch.ErrProtocol, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read validate response: %v", twitch.ErrTransport, err)
	}
	var v struct {
		ClientID string   `json:"client_id"`
		Login    string   `json:"login"`
		Scopes   []string `json:"scopes"`
		UserID   string   `json:"user_id"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("%w: malformed validate response: %v", twitch.ErrProtocol, err)
	}
	if v.ClientID != p.strategy.ClientID() {
		p.Invalidate()
		return fmt.Errorf("%w: validation client_id %q does not match ours", twitch.ErrInvalidToken, v.ClientID)
	}

	p.mu.Lock()
	p.userID = v.UserID
	p.login = v.Login
	p.scopes = v.Scopes
	p.validatedAt = time.Now()
	p.invalidated = false
	p.mu.Unlock()

	p.logger.Debug().Str("user_id", v.UserID).Str("login", v.Login).Msg("token validated")
	return nil
}

// KeepValid schedules Validate every hour until the returned stop function
// is called or ctx ends.
func (p *Provider) KeepValid(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(validationMaxAge)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.Validate(ctx); err != nil {
					p.logger.Warn().Err(err).Msg("periodic token validation failed")
				}
			}
		}
	}()
	return cancel
}
