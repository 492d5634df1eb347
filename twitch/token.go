package twitch

import (
	"time"
)

// TokenKind distinguishes the two Twitch bearer credential variants.
type TokenKind int

const (
	// TokenUser is tied to a human identity. It may carry a refresh
	// credential and carries granted scopes.
	TokenUser TokenKind = iota
	// TokenApp is tied to the application. It carries no scopes and is
	// re-minted on demand rather than refreshed.
	TokenApp
)

func (k TokenKind) String() string {
	if k == TokenApp {
		return "app"
	}
	return "user"
}

// ExpirySkew is subtracted from a token's expiry instant when deciding
// usability, so a token is never presented moments before the server would
// reject it.
const ExpirySkew = 30 * time.Second

// Token is a bearer credential with an absolute expiry instant and the
// scopes granted to it. Scopes are kept as raw strings so that values
// outside the known vocabulary survive a round trip through validation.
type Token struct {
	Kind         TokenKind
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scopes       []string
}

// Usable reports whether the token can still be presented at the given
// instant. A zero Expiry means the server did not state one and the token is
// trusted until validation says otherwise.
func (t *Token) Usable(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	if t.Expiry.IsZero() {
		return true
	}
	return now.Before(t.Expiry.Add(-ExpirySkew))
}

// HasScope reports whether the scope was granted to this token.
func (t *Token) HasScope(s Scope) bool {
	if t == nil {
		return false
	}
	for _, g := range t.Scopes {
		if g == string(s) {
			return true
		}
	}
	return false
}
