package twitch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenUsable(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name   string
		token  *Token
		usable bool
	}{
		{"nil token", nil, false},
		{"empty access token", &Token{Expiry: now.Add(time.Hour)}, false},
		{"live token", &Token{AccessToken: "abc", Expiry: now.Add(time.Hour)}, true},
		{"expired token", &Token{AccessToken: "abc", Expiry: now.Add(-time.Minute)}, false},
		{"inside skew window", &Token{AccessToken: "abc", Expiry: now.Add(ExpirySkew / 2)}, false},
		{"no expiry is trusted", &Token{AccessToken: "abc"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.usable, tt.token.Usable(now))
		})
	}
}

func TestTokenHasScope(t *testing.T) {
	tok := &Token{AccessToken: "abc", Scopes: []string{"chat:read", "user:read:chat"}}
	assert.True(t, tok.HasScope("chat:read"))
	assert.False(t, tok.HasScope("channel:moderate"))

	var none *Token
	assert.False(t, none.HasScope("chat:read"))
}

func TestJoinScopes(t *testing.T) {
	assert.Equal(t, "chat:read user:bot", JoinScopes([]Scope{ScopeChatRead, ScopeUserBot}))
	assert.Equal(t, "", JoinScopes(nil))
}
