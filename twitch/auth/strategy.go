package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/bjoelf/twitch-adapter/twitch"
)

// Strategy produces and refreshes tokens for one grant flow. Acquisition is
// flow-specific (redirect parsing, code exchange, device polling, direct
// issuance); refresh is uniform.
type Strategy interface {
	// ClientID returns the application's client id.
	ClientID() string
	// Kind returns the kind of token this strategy mints.
	Kind() twitch.TokenKind
	// CanRefresh reports whether Refresh can do anything useful for the
	// given token.
	CanRefresh(t *twitch.Token) bool
	// Refresh exchanges the token's refresh credential for a fresh token.
	// Strategies that cannot refresh return twitch.ErrConfig.
	Refresh(ctx context.Context, t *twitch.Token) (*twitch.Token, error)
}

// buildAuthorizeURL assembles the user-facing authorize URL shared by the
// implicit and authorization-code flows.
func buildAuthorizeURL(authURL, clientID, redirectURI, responseType string, scopes []twitch.Scope, state string, forceVerify bool) string {
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("response_type", responseType)
	q.Set("scope", twitch.JoinScopes(scopes))
	q.Set("state", state)
	if forceVerify {
		q.Set("force_verify", "true")
	}
	return authURL + "?" + q.Encode()
}

// tokenFromOAuth2 converts an oauth2 token response, enforcing the bearer
// contract and lifting the scope list out of the raw response body.
func tokenFromOAuth2(tok *oauth2.Token, kind twitch.TokenKind) (*twitch.Token, error) {
	if !strings.EqualFold(tok.TokenType, "bearer") {
		return nil, fmt.Errorf("%w: unexpected token_type %q", twitch.ErrProtocol, tok.TokenType)
	}
	return &twitch.Token{
		Kind:         kind,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scopes:       scopesFromExtra(tok.Extra("scope")),
	}, nil
}

// scopesFromExtra reads the scope array Twitch attaches to token responses.
// Unknown scope strings are preserved.
func scopesFromExtra(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if str, ok := s.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

// withHTTPClient routes oauth2's own HTTP traffic through the given client,
// so tests can target mock servers with self-signed certificates.
func withHTTPClient(ctx context.Context, c *http.Client) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c)
}
