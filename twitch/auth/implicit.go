package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bjoelf/twitch-adapter/twitch"
)

// ImplicitFlow obtains a user token from the URL fragment after a browser
// redirect. The URL build is universal; fragment parsing is where the
// browser hands the token over. Implicit tokens cannot be refreshed.
type ImplicitFlow struct {
	clientID    string
	redirectURI string
	scopes      []twitch.Scope
	endpoints   twitch.Endpoints

	// IgnoreStateMismatch makes TokenFromFragment return (nil, nil) on a
	// state mismatch instead of failing, for demultiplexing concurrent
	// flows sharing one redirect handler.
	IgnoreStateMismatch bool
}

// NewImplicitFlow builds an implicit-grant strategy.
func NewImplicitFlow(clientID, redirectURI string, scopes []twitch.Scope, endpoints twitch.Endpoints) (*ImplicitFlow, error) {
	if clientID == "" || redirectURI == "" {
		return nil, fmt.Errorf("%w: implicit flow needs client id and redirect URI", twitch.ErrConfig)
	}
	return &ImplicitFlow{
		clientID:    clientID,
		redirectURI: redirectURI,
		scopes:      scopes,
		endpoints:   endpoints,
	}, nil
}

func (f *ImplicitFlow) ClientID() string       { return f.clientID }
func (f *ImplicitFlow) Kind() twitch.TokenKind { return twitch.TokenUser }

// AuthorizeURL builds the redirect target with response_type=token.
func (f *ImplicitFlow) AuthorizeURL(state string, forceVerify bool) string {
	return buildAuthorizeURL(f.endpoints.AuthURL, f.clientID, f.redirectURI, "token", f.scopes, state, forceVerify)
}

// TokenFromFragment extracts the token from the redirect URL fragment. The
// fragment may be passed with or without its leading '#'. The echoed state
// is compared constant-time against expectedState; a mismatch fails the
// flow unless IgnoreStateMismatch is set.
func (f *ImplicitFlow) TokenFromFragment(fragment, expectedState string) (*twitch.Token, error) {
	vals, err := url.ParseQuery(strings.TrimPrefix(fragment, "#"))
	if err != nil {
		return nil, fmt.Errorf("parse redirect fragment: %w", err)
	}
	if !VerifyState(expectedState, vals.Get("state")) {
		if f.IgnoreStateMismatch {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: invalid state parameter", twitch.ErrConfig)
	}
	if tt := vals.Get("token_type"); !strings.EqualFold(tt, "bearer") {
		return nil, fmt.Errorf("%w: unexpected token_type %q", twitch.ErrProtocol, tt)
	}
	access := vals.Get("access_token")
	if access == "" {
		return nil, fmt.Errorf("%w: no access_token in fragment", twitch.ErrProtocol)
	}
	var scopes []string
	if s := vals.Get("scope"); s != "" {
		scopes = strings.Split(s, " ")
	} else {
		scopes = twitch.ScopeStrings(f.scopes)
	}
	return &twitch.Token{
		Kind:        twitch.TokenUser,
		AccessToken: access,
		Scopes:      scopes,
	}, nil
}

// CanRefresh always reports false; implicit tokens carry no refresh
// credential.
func (f *ImplicitFlow) CanRefresh(*twitch.Token) bool { return false }

// Refresh is unsupported for the implicit flow.
func (f *ImplicitFlow) Refresh(context.Context, *twitch.Token) (*twitch.Token, error) {
	return nil, fmt.Errorf("%w: implicit flow cannot refresh tokens", twitch.ErrConfig)
}
