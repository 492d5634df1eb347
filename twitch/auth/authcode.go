package auth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/bjoelf/twitch-adapter/twitch"
)

// AuthCodeFlow exchanges an authorization code for a user token at the token
// endpoint. The exchange and refresh legs need the client secret, so they
// are server-only; the authorize URL build is universal.
type AuthCodeFlow struct {
	cfg    oauth2.Config
	scopes []twitch.Scope
	httpc  *http.Client
}

// NewAuthCodeFlow builds an authorization-code strategy. The secret and
// redirect URI are mandatory for this flow.
func NewAuthCodeFlow(clientID, clientSecret, redirectURI string, scopes []twitch.Scope, endpoints twitch.Endpoints) (*AuthCodeFlow, error) {
	if clientID == "" || clientSecret == "" || redirectURI == "" {
		return nil, fmt.Errorf("%w: authorization-code flow needs client id, secret and redirect URI", twitch.ErrConfig)
	}
	return &AuthCodeFlow{
		cfg: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       twitch.ScopeStrings(scopes),
			Endpoint: oauth2.Endpoint{
				AuthURL:  endpoints.AuthURL,
				TokenURL: endpoints.TokenURL,
			},
		},
		scopes: scopes,
	}, nil
}

// SetHTTPClient routes token-endpoint traffic through the given client.
func (f *AuthCodeFlow) SetHTTPClient(c *http.Client) { f.httpc = c }

func (f *AuthCodeFlow) ClientID() string       { return f.cfg.ClientID }
func (f *AuthCodeFlow) Kind() twitch.TokenKind { return twitch.TokenUser }

// AuthorizeURL builds the redirect target with response_type=code.
func (f *AuthCodeFlow) AuthorizeURL(state string, forceVerify bool) string {
	opts := []oauth2.AuthCodeOption{}
	if forceVerify {
		opts = append(opts, oauth2.SetAuthURLParam("force_verify", "true"))
	}
	return f.cfg.AuthCodeURL(state, opts...)
}

// Exchange trades the authorization code from the redirect query for a
// token. The echoed state must match the expected one.
func (f *AuthCodeFlow) Exchange(ctx context.Context, code, returnedState, expectedState string) (*twitch.Token, error) {
	if !VerifyState(expectedState, returnedState) {
		return nil, fmt.Errorf("%w: invalid state parameter", twitch.ErrConfig)
	}
	tok, err := f.cfg.Exchange(withHTTPClient(ctx, f.httpc), code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tokenFromOAuth2(tok, twitch.TokenUser)
}

// CanRefresh reports whether the token carries a refresh credential.
func (f *AuthCodeFlow) CanRefresh(t *twitch.Token) bool {
	return t != nil && t.RefreshToken != ""
}

// Refresh exchanges the refresh credential for a fresh token using the
// client secret.
func (f *AuthCodeFlow) Refresh(ctx context.Context, t *twitch.Token) (*twitch.Token, error) {
	if !f.CanRefresh(t) {
		return nil, fmt.Errorf("%w: token has no refresh credential", twitch.ErrConfig)
	}
	src := f.cfg.TokenSource(withHTTPClient(ctx, f.httpc), &oauth2.Token{RefreshToken: t.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	fresh, err := tokenFromOAuth2(tok, twitch.TokenUser)
	if err != nil {
		return nil, err
	}
	// The server may omit scopes on refresh; carry the previous grant.
	if len(fresh.Scopes) == 0 {
		fresh.Scopes = t.Scopes
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = t.RefreshToken
	}
	return fresh, nil
}
