package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjoelf/twitch-adapter/twitch"
	"github.com/bjoelf/twitch-adapter/twitch/helix/mockhelix"
)

func newUserProvider(t *testing.T, mock *mockhelix.Server, scopes ...string) *Provider {
	t.Helper()
	f, err := NewDeviceFlow("cid", "", nil, mock.Endpoints())
	require.NoError(t, err)
	f.SetHTTPClient(mock.Client())

	access, refresh := mock.IssueUserToken("1001", "ada", scopes...)
	tok := &twitch.Token{
		Kind:         twitch.TokenUser,
		AccessToken:  access,
		RefreshToken: refresh,
		Expiry:       time.Now().Add(time.Hour),
		Scopes:       scopes,
	}
	return NewProvider(f, tok, mock.Endpoints(), WithHTTPClient(mock.Client()))
}

func TestProviderValidateRecordsIdentity(t *testing.T) {
	mock := mockhelix.NewServer("cid", "secret")
	defer mock.Close()

	p := newUserProvider(t, mock, "chat:read")
	require.NoError(t, p.Validate(context.Background()))

	assert.Equal(t, "1001", p.UserID())
	assert.Equal(t, "ada", p.Login())
	assert.Equal(t, []string{"chat:read"}, p.Scopes())

	// a second call inside the freshness window stays local
	require.NoError(t, p.Validate(context.Background()))
	assert.Equal(t, 1, mock.ValidateRequests())
}

func TestProviderValidateSharesInflight(t *testing.T) {
	mock := mockhelix.NewServer("cid", "secret")
	defer mock.Close()

	p := newUserProvider(t, mock, "chat:read")
	mock.SetValidateDelay(100 * time.Millisecond)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.Validate(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, mock.ValidateRequests())
}

func TestProviderRevokedTokenRefreshes(t *testing.T) {
	mock := mockhelix.NewServer("cid", "secret")
	defer mock.Close()

	p := newUserProvider(t, mock, "chat:read")
	revoked, err := p.AccessToken(context.Background())
	require.NoError(t, err)

	mock.RevokeToken(revoked)
	err = p.Validate(context.Background())
	assert.ErrorIs(t, err, twitch.ErrInvalidToken)

	// the invalidation forces a refresh on the next token fetch
	fresh, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, revoked, fresh)
	require.NoError(t, p.Validate(context.Background()))
}

func TestProviderRefreshUnsupported(t *testing.T) {
	mock := mockhelix.NewServer("cid", "secret")
	defer mock.Close()

	f, err := NewImplicitFlow("cid", "http://localhost/cb", nil, mock.Endpoints())
	require.NoError(t, err)
	p := NewProvider(f, &twitch.Token{Kind: twitch.TokenUser, AccessToken: "abc"},
		mock.Endpoints(), WithHTTPClient(mock.Client()))

	assert.ErrorIs(t, p.Refresh(context.Background()), twitch.ErrConfig)

	p.Invalidate()
	_, err = p.AccessToken(context.Background())
	assert.ErrorIs(t, err, twitch.ErrInvalidToken)
}

func TestProviderAppTokenLifecycle(t *testing.T) {
	mock := mockhelix.NewServer("cid", "secret")
	defer mock.Close()

	f, err := NewClientCredentialsFlow("cid", "secret", mock.Endpoints())
	require.NoError(t, err)
	f.SetHTTPClient(mock.Client())

	p := NewProvider(f, nil, mock.Endpoints(), WithHTTPClient(mock.Client()))
	assert.Equal(t, twitch.TokenApp, p.Kind())

	// no initial token: the first fetch mints one
	access, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, access)

	// app tokens validate on expiry alone, no endpoint traffic
	require.NoError(t, p.Validate(context.Background()))
	assert.Equal(t, 0, mock.ValidateRequests())

	p.Invalidate()
	again, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, access, again)
}

func TestAuthCodeFlowExchange(t *testing.T) {
	mock := mockhelix.NewServer("cid", "secret")
	defer mock.Close()

	f, err := NewAuthCodeFlow("cid", "secret", "http://localhost/cb",
		[]twitch.Scope{twitch.ScopeChatRead}, mock.Endpoints())
	require.NoError(t, err)
	f.SetHTTPClient(mock.Client())

	mock.AddAuthCode("the-code", "1001", "ada", "chat:read")

	tok, err := f.Exchange(context.Background(), "the-code", "st", "st")
	require.NoError(t, err)
	assert.Equal(t, twitch.TokenUser, tok.Kind)
	assert.NotEmpty(t, tok.AccessToken)
	assert.NotEmpty(t, tok.RefreshToken)
	assert.Contains(t, tok.Scopes, "chat:read")

	_, err = f.Exchange(context.Background(), "the-code", "bad", "st")
	assert.ErrorIs(t, err, twitch.ErrConfig)

	fresh, err := f.Refresh(context.Background(), tok)
	require.NoError(t, err)
	assert.NotEqual(t, tok.AccessToken, fresh.AccessToken)
}

func TestNewAuthCodeFlowValidation(t *testing.T) {
	ep := twitch.DefaultEndpoints()
	_, err := NewAuthCodeFlow("", "sec", "http://cb", nil, ep)
	assert.ErrorIs(t, err, twitch.ErrConfig)
	_, err = NewAuthCodeFlow("cid", "", "http://cb", nil, ep)
	assert.ErrorIs(t, err, twitch.ErrConfig)
	_, err = NewClientCredentialsFlow("cid", "", ep)
	assert.ErrorIs(t, err, twitch.ErrConfig)
}

func TestProviderRefreshSharesInflight(t *testing.T) {
	mock := mockhelix.NewServer("cid", "secret")
	defer mock.Close()

	p := newUserProvider(t, mock, "chat:read")
	p.Invalidate()

	// every caller needs a refresh; Twitch rotates refresh tokens, so only
	// one round trip may reach the server
	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Token(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, mock.RefreshRequests())
}
