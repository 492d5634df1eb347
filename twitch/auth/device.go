package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bjoelf/twitch-adapter/twitch"
)

// DeviceFlow obtains a user token by having the user visit a verification
// URL and enter a short code while the client polls the token endpoint.
// Works for both confidential clients (secret set) and public clients.
type DeviceFlow struct {
	clientID     string
	clientSecret string // optional; public clients omit it
	scopes       []twitch.Scope
	endpoints    twitch.Endpoints
	httpc        *http.Client

	pollMu sync.Mutex // no two polls run concurrently
}

// DeviceCode is the server's answer to a device code request.
type DeviceCode struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	Interval        time.Duration
	ExpiresAt       time.Time
}

// NewDeviceFlow builds a device-code strategy. clientSecret may be empty for
// public clients.
func NewDeviceFlow(clientID, clientSecret string, scopes []twitch.Scope, endpoints twitch.Endpoints) (*DeviceFlow, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: device flow needs a client id", twitch.ErrConfig)
	}
	return &DeviceFlow{
		clientID:     clientID,
		clientSecret: clientSecret,
		scopes:       scopes,
		endpoints:    endpoints,
		httpc:        http.DefaultClient,
	}, nil
}

// SetHTTPClient routes device and token endpoint traffic through the given
// client.
func (f *DeviceFlow) SetHTTPClient(c *http.Client) { f.httpc = c }

func (f *DeviceFlow) ClientID() string       { return f.clientID }
func (f *DeviceFlow) Kind() twitch.TokenKind { return twitch.TokenUser }

// RequestCode asks the device endpoint for a user code and verification URL.
func (f *DeviceFlow) RequestCode(ctx context.Context) (*DeviceCode, error) {
	form := url.Values{}
	form.Set("client_id", f.clientID)
	form.Set("scopes", twitch.JoinScopes(f.scopes))

	body, _, err := f.postForm(ctx, f.endpoints.DeviceURL, form)
	if err != nil {
		return nil, err
	}
	var resp struct {
		DeviceCode      string `json:"device_code"`
		UserCode        string `json:"user_code"`
		VerificationURI string `json:"verification_uri"`
		Interval        int    `json:"interval"`
		ExpiresIn       int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed device code response: %v", twitch.ErrProtocol, err)
	}
	if resp.DeviceCode == "" || resp.Interval <= 0 {
		return nil, fmt.Errorf("%w: incomplete device code response", twitch.ErrProtocol)
	}
	return &DeviceCode{
		DeviceCode:      resp.DeviceCode,
		UserCode:        resp.UserCode,
		VerificationURI: resp.VerificationURI,
		Interval:        time.Duration(resp.Interval) * time.Second,
		ExpiresAt:       time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

// Wait polls the token endpoint at the server-dictated interval until the
// user authorizes, the device code expires, or ctx is cancelled.
func (f *DeviceFlow) Wait(ctx context.Context, code *DeviceCode) (*twitch.Token, error) {
	f.pollMu.Lock()
	defer f.pollMu.Unlock()

	interval := code.Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		if time.Now().After(code.ExpiresAt) {
			return nil, fmt.Errorf("%w: device code expired before authorization", twitch.ErrInvalidToken)
		}

		tok, pending, err := f.poll(ctx, code.DeviceCode)
		switch {
		case err != nil:
			return nil, err
		case pending == "authorization_pending":
			// keep polling
		case pending == "slow_down":
			interval += 5 * time.Second
			ticker.Reset(interval)
		case pending != "":
			return nil, fmt.Errorf("%w: device authorization failed: %s", twitch.ErrInvalidToken, pending)
		default:
			return tok, nil
		}
	}
}

// poll performs a single token-endpoint request. A non-empty pending string
// is a retryable OAuth error code.
func (f *DeviceFlow) poll(ctx context.Context, deviceCode string) (tok *twitch.Token, pending string, err error) {
	form := url.Values{}
	form.Set("client_id", f.clientID)
	if f.clientSecret != "" {
		form.Set("client_secret", f.clientSecret)
	}
	form.Set("device_code", deviceCode)
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:device_code")

	body, status, err := f.postForm(ctx, f.endpoints.TokenURL, form)
	if err != nil {
		return nil, "", err
	}
	if status >= 400 {
		var oerr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &oerr)
		switch oerr.Message {
		case "authorization_pending", "slow_down":
			return nil, oerr.Message, nil
		case "":
			return nil, "", fmt.Errorf("%w: token endpoint returned %d", twitch.ErrProtocol, status)
		default:
			return nil, oerr.Message, nil
		}
	}
	t, err := parseTokenResponse(body, twitch.TokenUser, f.scopes)
	return t, "", err
}

// CanRefresh reports whether the token carries a refresh credential.
func (f *DeviceFlow) CanRefresh(t *twitch.Token) bool {
	return t != nil && t.RefreshToken != ""
}

// Refresh exchanges the refresh credential for a fresh token. Confidential
// clients include the secret; public clients refresh with the client id
// alone.
func (f *DeviceFlow) Refresh(ctx context.Context, t *twitch.Token) (*twitch.Token, error) {
	if !f.CanRefresh(t) {
		return nil, fmt.Errorf("%w: token has no refresh credential", twitch.ErrConfig)
	}
	form := url.Values{}
	form.Set("client_id", f.clientID)
	if f.clientSecret != "" {
		form.Set("client_secret", f.clientSecret)
	}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", t.RefreshToken)

	body, status, err := f.postForm(ctx, f.endpoints.TokenURL, form)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("%w: refresh rejected with status %d", twitch.ErrInvalidToken, status)
	}
	fresh, err := parseTokenResponse(body, twitch.TokenUser, f.scopes)
	if err != nil {
		return nil, err
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = t.RefreshToken
	}
	return fresh, nil
}

func (f *DeviceFlow) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.httpc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", twitch.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read response: %v", twitch.ErrTransport, err)
	}
	return body, resp.StatusCode, nil
}

// parseTokenResponse validates a raw token-endpoint success body. Expiry is
// computed as now + expires_in; a token_type other than bearer is a
// protocol error.
func parseTokenResponse(body []byte, kind twitch.TokenKind, requested []twitch.Scope) (*twitch.Token, error) {
	var resp struct {
		AccessToken  string   `json:"access_token"`
		RefreshToken string   `json:"refresh_token"`
		ExpiresIn    int      `json:"expires_in"`
		Scope        []string `json:"scope"`
		TokenType    string   `json:"token_type"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed token response: %v", twitch.ErrProtocol, err)
	}
	if !strings.EqualFold(resp.TokenType, "bearer") {
		return nil, fmt.Errorf("%w: unexpected token_type %q", twitch.ErrProtocol, resp.TokenType)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access_token", twitch.ErrProtocol)
	}
	scopes := resp.Scope
	if len(scopes) == 0 && kind == twitch.TokenUser {
		scopes = twitch.ScopeStrings(requested)
	}
	var expiry time.Time
	if resp.ExpiresIn > 0 {
		expiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return &twitch.Token{
		Kind:         kind,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		Expiry:       expiry,
		Scopes:       scopes,
	}, nil
}
