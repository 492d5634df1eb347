package auth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/bjoelf/twitch-adapter/twitch"
)

// ClientCredentialsFlow mints app access tokens directly from the client id
// and secret. App tokens carry no refresh credential; refresh is a new
// issuance. Server-only, since it needs the secret.
type ClientCredentialsFlow struct {
	cfg   clientcredentials.Config
	httpc *http.Client
}

// NewClientCredentialsFlow builds a client-credentials strategy. The secret
// is mandatory.
func NewClientCredentialsFlow(clientID, clientSecret string, endpoints twitch.Endpoints) (*ClientCredentialsFlow, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("%w: client-credentials flow needs client id and secret", twitch.ErrConfig)
	}
	return &ClientCredentialsFlow{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     endpoints.TokenURL,
		},
	}, nil
}

// SetHTTPClient routes token-endpoint traffic through the given client.
func (f *ClientCredentialsFlow) SetHTTPClient(c *http.Client) { f.httpc = c }

func (f *ClientCredentialsFlow) ClientID() string       { return f.cfg.ClientID }
func (f *ClientCredentialsFlow) Kind() twitch.TokenKind { return twitch.TokenApp }

// Acquire issues a new app token.
func (f *ClientCredentialsFlow) Acquire(ctx context.Context) (*twitch.Token, error) {
	tok, err := f.cfg.Token(withHTTPClient(ctx, f.httpc))
	if err != nil {
		return nil, fmt.Errorf("issue app token: %w", err)
	}
	return tokenFromOAuth2(tok, twitch.TokenApp)
}

// CanRefresh always reports true; app tokens are re-minted on demand.
func (f *ClientCredentialsFlow) CanRefresh(*twitch.Token) bool { return true }

// Refresh issues a new app token, ignoring the old one.
func (f *ClientCredentialsFlow) Refresh(ctx context.Context, _ *twitch.Token) (*twitch.Token, error) {
	return f.Acquire(ctx)
}
