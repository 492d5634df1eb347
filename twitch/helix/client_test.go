package helix

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjoelf/twitch-adapter/twitch"
	"github.com/bjoelf/twitch-adapter/twitch/auth"
	"github.com/bjoelf/twitch-adapter/twitch/helix/mockhelix"
)

func appClient(t *testing.T, mock *mockhelix.Server) (*Client, *auth.Provider) {
	t.Helper()
	f, err := auth.NewClientCredentialsFlow("cid", "secret", mock.Endpoints())
	require.NoError(t, err)
	f.SetHTTPClient(mock.Client())
	provider := auth.NewProvider(f, nil, mock.Endpoints(), auth.WithHTTPClient(mock.Client()))
	return NewClient(mock.Endpoints().HelixURL, WithHTTPClient(mock.Client())), provider
}

func userClient(t *testing.T, mock *mockhelix.Server, scopes ...string) (*Client, *auth.Provider) {
	t.Helper()
	f, err := auth.NewDeviceFlow("cid", "", nil, mock.Endpoints())
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
	provider := auth.NewProvider(f, tok, mock.Endpoints(), auth.WithHTTPClient(mock.Client()))
	return NewClient(mock.Endpoints().HelixURL, WithHTTPClient(mock.Client())), provider
}

func TestClientGetUsers(t *testing.T) {
	mock := mockhelix.NewServer("cid", "secret")
	defer mock.Close()
	mock.AddUser(mockhelix.User{ID: "1001", Login: "ada", DisplayName: "Ada"})

	c, provider := appClient(t, mock)

	q := url.Values{}
	q.Set("login", "ada")
	res, err := c.Do(context.Background(), GetUsers, provider, q, nil)
	require.NoError(t, err)

	var out struct {
		Data []mockhelix.User `json:"data"`
	}
	require.NoError(t, res.Decode(&out))
	require.Len(t, out.Data, 1)
	assert.Equal(t, "Ada", out.Data[0].DisplayName)
}

func TestClientRefreshesOnceOn401(t *testing.T) {
	mock := mockhelix.NewServer("cid", "secret")
	defer mock.Close()
	mock.AddUser(mockhelix.User{ID: "1001", Login: "ada", DisplayName: "Ada"})

	c, provider := userClient(t, mock, "chat:read")
	mock.FailAuthOnce(1)

	before := mock.RefreshRequests()
	_, err := c.Do(context.Background(), GetUsers, provider, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, before+1, mock.RefreshRequests())
}

func TestClientGivesUpAfterSecond401(t *testing.T) {
	mock := mockhelix.NewServer("cid", "secret")
	defer mock.Close()

	c, provider := userClient(t, mock, "chat:read")
	mock.FailAuthOnce(2)

	_, err := c.Do(context.Background(), GetUsers, provider, nil, nil)
	assert.ErrorIs(t, err, twitch.ErrUnauthenticated)
}

func TestClientWaitsOnceOn429(t *testing.T) {
	mock := mockhelix.NewServer("cid", "secret")
	defer mock.Close()
	mock.AddUser(mockhelix.User{ID: "1001", Login: "ada", DisplayName: "Ada"})

	c, provider := appClient(t, mock)
	// reset header carries unix-second precision, so 2s guarantees at
	// least a one second wait
	mock.RateLimitOnce(1, 2*time.Second)

	start := time.Now()
	_, err := c.Do(context.Background(), GetUsers, provider, nil, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestClientSurfacesPersistent429(t *testing.T) {
	mock := mockhelix.NewServer("cid", "secret")
	defer mock.Close()

	c, provider := appClient(t, mock)
	mock.RateLimitOnce(2, time.Second)

	_, err := c.Do(context.Background(), GetUsers, provider, nil, nil)
	assert.ErrorIs(t, err, twitch.ErrRateLimited)
}

func TestClientAuthKindPreflight(t *testing.T) {
	mock := mockhelix.NewServer("cid", "secret")
	defer mock.Close()

	c, provider := appClient(t, mock)
	_, err := c.Do(context.Background(), SendChatMessage, provider, nil, map[string]any{
		"broadcaster_id": "1",
		"sender_id":      "2",
		"message":        "hi",
	})
	assert.ErrorIs(t, err, twitch.ErrAuthUnsupported)
}

func TestClientScopePreflight(t *testing.T) {
	mock := mockhelix.NewServer("cid", "secret")
	defer mock.Close()

	c, provider := userClient(t, mock, "chat:read")
	_, err := c.Do(context.Background(), SendChatMessage, provider, nil, map[string]any{
		"broadcaster_id": "1",
		"sender_id":      "2",
		"message":        "hi",
	})
	assert.ErrorIs(t, err, twitch.ErrScopeMissing)
}

func TestClientRejectsInvalidBody(t *testing.T) {
	mock := mockhelix.NewServer("cid", "secret")
	defer mock.Close()

	c, provider := appClient(t, mock)
	_, err := c.Do(context.Background(), CreateEventSubSubscription, provider, nil, map[string]any{
		"type": "channel.chat.message",
		// version, condition and transport missing
	})
	assert.ErrorIs(t, err, twitch.ErrBadRequest)
}

func TestClientMapsKnownErrors(t *testing.T) {
	mock := mockhelix.NewServer("cid", "secret")
	defer mock.Close()

	c, provider := appClient(t, mock)

	q := url.Values{}
	q.Set("id", "no-such-subscription")
	_, err := c.Do(context.Background(), DeleteEventSubSubscription, provider, q, nil)

	var apiErr *twitch.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)
	assert.NotEmpty(t, apiErr.Message)
}

func TestClientPagination(t *testing.T) {
	mock := mockhelix.NewServer("cid", "secret")
	defer mock.Close()
	mock.SetPageSize(2)

	c, provider := appClient(t, mock)

	for i := 0; i < 5; i++ {
		body := map[string]any{
			"type":      "stream.online",
			"version":   "1",
			"condition": map[string]string{"broadcaster_user_id": string(rune('a' + i))},
			"transport": map[string]string{"method": "websocket", "session_id": "sess-1"},
		}
		_, err := c.Do(context.Background(), CreateEventSubSubscription, provider, nil, body)
		require.NoError(t, err)
	}

	pager := c.Pages(GetEventSubSubscriptions, provider, nil, nil)
	total := 0
	pages := 0
	for pager.More() {
		res, err := pager.Next(context.Background())
		require.NoError(t, err)
		var out struct {
			Data []any `json:"data"`
		}
		require.NoError(t, res.Decode(&out))
		total += len(out.Data)
		pages++
		require.Less(t, pages, 10, "pager did not terminate")
	}
	assert.Equal(t, 5, total)
	assert.Equal(t, 3, pages)
}

func TestClientTreatsUndeclaredStatusAsProtocolError(t *testing.T) {
	mock := mockhelix.NewServer("cid", "secret")
	defer mock.Close()
	mock.AddUser(mockhelix.User{ID: "1001", Login: "ada", DisplayName: "Ada"})

	c, provider := appClient(t, mock)

	// GetUsers declares 400 as its only known error; a 403 is outside the
	// endpoint's contract
	mock.FailStatusOnce(1, http.StatusForbidden)
	_, err := c.Do(context.Background(), GetUsers, provider, nil, nil)
	assert.ErrorIs(t, err, twitch.ErrProtocol)

	var apiErr *twitch.APIError
	assert.False(t, errors.As(err, &apiErr))

	// the scripted status is consumed; the next call succeeds
	_, err = c.Do(context.Background(), GetUsers, provider, nil, nil)
	assert.NoError(t, err)
}
