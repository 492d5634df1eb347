package eventsub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjoelf/twitch-adapter/twitch"
	"github.com/bjoelf/twitch-adapter/twitch/auth"
	"github.com/bjoelf/twitch-adapter/twitch/eventsub/mockeventsub"
	"github.com/bjoelf/twitch-adapter/twitch/helix"
	"github.com/bjoelf/twitch-adapter/twitch/helix/mockhelix"
)

func testSetup(t *testing.T, scopes ...string) (*mockhelix.Server, *mockeventsub.Server, *Client) {
	t.Helper()

	hx := mockhelix.NewServer("cid", "secret")
	t.Cleanup(hx.Close)
	ws := mockeventsub.NewServer()
	t.Cleanup(ws.Close)
	hx.SetEventSubURL(ws.URL())

	f, err := auth.NewDeviceFlow("cid", "", nil, hx.Endpoints())
	require.NoError(t, err)
	f.SetHTTPClient(hx.Client())

	access, refresh := hx.IssueUserToken("1001", "ada", scopes...)
	provider := auth.NewProvider(f, &twitch.Token{
		Kind:         twitch.TokenUser,
		AccessToken:  access,
		RefreshToken: refresh,
		Expiry:       time.Now().Add(time.Hour),
		Scopes:       scopes,
	}, hx.Endpoints(), auth.WithHTTPClient(hx.Client()))

	hc := helix.NewClient(hx.Endpoints().HelixURL, helix.WithHTTPClient(hx.Client()))
	c, err := NewClient(hc, provider, ws.URL())
	require.NoError(t, err)
	return hx, ws, c
}

func chatCondition() map[string]string {
	return map[string]string{"broadcaster_user_id": "1001", "user_id": "1001"}
}

func chatEvent(text string) map[string]any {
	return map[string]any{
		"broadcaster_user_id":    "1001",
		"broadcaster_user_login": "ada",
		"chatter_user_id":        "2002",
		"chatter_user_login":     "bob",
		"message_id":             "wire-" + text,
		"message":                map[string]any{"text": text},
		"message_type":           "text",
	}
}

func TestSubscribePreflight(t *testing.T) {
	_, _, c := testSetup(t, "user:read:chat")

	ctx := context.Background()

	_, err := c.Subscribe(ctx, "no.such.event", "1", nil)
	assert.ErrorIs(t, err, twitch.ErrUnknownKind)

	_, err = c.Subscribe(ctx, "channel.follow", "2",
		map[string]string{"broadcaster_user_id": "1001", "moderator_user_id": "1001"})
	assert.ErrorIs(t, err, twitch.ErrScopeMissing)

	_, err = c.Subscribe(ctx, "channel.chat.message", "1",
		map[string]string{"broadcaster_user_id": "1001"})
	assert.ErrorIs(t, err, twitch.ErrBadRequest)
}

func TestSubscribeReceiveOnceAndClose(t *testing.T) {
	hx, ws, c := testSetup(t, "user:read:chat")
	ctx := context.Background()

	st, err := c.Subscribe(ctx, "channel.chat.message", "1", chatCondition())
	require.NoError(t, err)

	subs := hx.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, st.SubscriptionID(), subs[0].ID)
	assert.Equal(t, ws.LastSessionID(), subs[0].Transport["session_id"])

	msgID, err := ws.SendNotification(st.SubscriptionID(), "channel.chat.message", "1", chatCondition(), chatEvent("hello"))
	require.NoError(t, err)
	// the server redelivers the same message id
	require.NoError(t, ws.SendNotificationWithID(msgID, st.SubscriptionID(), "channel.chat.message", "1", chatCondition(), chatEvent("hello")))

	ev, err := st.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "channel.chat.message", ev.Type)
	assert.Equal(t, msgID, ev.MessageID)

	var payload struct {
		Message struct {
			Text string `json:"text"`
		} `json:"message"`
	}
	require.NoError(t, ev.Decode(&payload))
	assert.Equal(t, "hello", payload.Message.Text)

	// the duplicate was dropped, so a bounded wait stays empty
	shortCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	_, err = st.Recv(shortCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, st.Close())
	assert.Empty(t, hx.Subscriptions())
	require.Eventually(t, func() bool { return ws.ConnectionCount() == 0 },
		5*time.Second, 20*time.Millisecond, "last stream should close the session socket")

	_, err = st.Recv(ctx)
	assert.ErrorIs(t, err, twitch.ErrStreamClosed)
}

func TestGracefulReconnectHandoff(t *testing.T) {
	hx, wsA, c := testSetup(t, "user:read:chat")
	ctx := context.Background()

	st, err := c.Subscribe(ctx, "channel.chat.message", "1", chatCondition())
	require.NoError(t, err)
	origSubID := st.SubscriptionID()

	firstID, err := wsA.SendNotification(origSubID, "channel.chat.message", "1", chatCondition(), chatEvent("before"))
	require.NoError(t, err)
	_, err = st.Recv(ctx)
	require.NoError(t, err)

	wsB := mockeventsub.NewServer()
	defer wsB.Close()
	wsB.AdoptSessionID(wsA.LastSessionID())

	require.NoError(t, wsA.SendReconnect(wsB.URL()))
	require.Eventually(t, func() bool { return wsB.ConnectionCount() == 1 },
		5*time.Second, 20*time.Millisecond, "client should move to the reconnect target")
	require.Eventually(t, func() bool { return wsA.ConnectionCount() == 0 },
		5*time.Second, 20*time.Millisecond, "old socket should be closed after handoff")

	// no resubscription happened: same helix subscription, same stream id
	assert.Equal(t, origSubID, st.SubscriptionID())
	assert.Len(t, hx.Subscriptions(), 1)

	// the dedup window survives the handoff
	require.NoError(t, wsB.SendNotificationWithID(firstID, origSubID, "channel.chat.message", "1", chatCondition(), chatEvent("before")))
	_, err = wsB.SendNotification(origSubID, "channel.chat.message", "1", chatCondition(), chatEvent("after"))
	require.NoError(t, err)

	ev, err := st.Recv(ctx)
	require.NoError(t, err)
	var payload struct {
		Message struct {
			Text string `json:"text"`
		} `json:"message"`
	}
	require.NoError(t, ev.Decode(&payload))
	assert.Equal(t, "after", payload.Message.Text, "redelivered message must not surface again")

	require.NoError(t, st.Close())
}

func TestUngracefulReconnectResubscribes(t *testing.T) {
	if testing.Short() {
		t.Skip("redial backoff makes this test slow")
	}
	_, ws, c := testSetup(t, "user:read:chat")
	ctx := context.Background()

	st, err := c.Subscribe(ctx, "channel.chat.message", "1", chatCondition())
	require.NoError(t, err)
	origSubID := st.SubscriptionID()

	ws.DropConnections()

	require.Eventually(t, func() bool { return st.SubscriptionID() != origSubID },
		15*time.Second, 50*time.Millisecond, "redial should recreate the subscription")
	assert.GreaterOrEqual(t, ws.WelcomeCount(), 2)

	_, err = ws.SendNotification(st.SubscriptionID(), "channel.chat.message", "1", chatCondition(), chatEvent("revived"))
	require.NoError(t, err)

	recvCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ev, err := st.Recv(recvCtx)
	require.NoError(t, err)
	assert.Equal(t, st.SubscriptionID(), ev.SubscriptionID)

	require.NoError(t, st.Close())
}

func TestKeepaliveWatchdogTriggersReconnect(t *testing.T) {
	if testing.Short() {
		t.Skip("watchdog expiry makes this test slow")
	}
	_, ws, c := testSetup(t, "user:read:chat")
	ws.SetKeepaliveSeconds(1)

	st, err := c.Subscribe(context.Background(), "channel.chat.message", "1", chatCondition())
	require.NoError(t, err)
	defer st.Close()

	// no keepalives arrive; the watchdog should give up on the socket and
	// establish a fresh session
	require.Eventually(t, func() bool { return ws.WelcomeCount() >= 2 },
		20*time.Second, 100*time.Millisecond, "watchdog should force a reconnect")
}

func TestRevocationTerminatesStream(t *testing.T) {
	_, ws, c := testSetup(t, "user:read:chat")
	ctx := context.Background()

	st, err := c.Subscribe(ctx, "channel.chat.message", "1", chatCondition())
	require.NoError(t, err)

	require.NoError(t, ws.SendRevocation(st.SubscriptionID(), "channel.chat.message", "1", "authorization_revoked"))

	recvCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = st.Recv(recvCtx)

	var revoked *twitch.RevokedError
	require.True(t, errors.As(err, &revoked))
	assert.Equal(t, "authorization_revoked", revoked.Reason)

	// terminated streams keep reporting the same terminal error
	_, err = st.Recv(context.Background())
	assert.True(t, errors.As(err, &revoked))

	require.NoError(t, st.Close())
}

func TestSessionSharedAcrossStreams(t *testing.T) {
	hx, ws, c := testSetup(t, "user:read:chat")
	ctx := context.Background()

	st1, err := c.Subscribe(ctx, "channel.chat.message", "1", chatCondition())
	require.NoError(t, err)
	st2, err := c.Subscribe(ctx, "stream.online", "1", map[string]string{"broadcaster_user_id": "1001"})
	require.NoError(t, err)

	assert.Equal(t, 1, ws.ConnectionCount(), "streams with the same identity share one socket")
	assert.Len(t, hx.Subscriptions(), 2)

	require.NoError(t, st1.Close())
	assert.Equal(t, 1, ws.ConnectionCount(), "socket stays up while a stream remains")

	require.NoError(t, st2.Close())
	require.Eventually(t, func() bool { return ws.ConnectionCount() == 0 },
		5*time.Second, 20*time.Millisecond)
}

func TestInvalidEventPayloadClosesStream(t *testing.T) {
	_, ws, c := testSetup(t, "user:read:chat")
	ctx := context.Background()

	st, err := c.Subscribe(ctx, "channel.chat.message", "1", chatCondition())
	require.NoError(t, err)

	_, err = ws.SendNotification(st.SubscriptionID(), "channel.chat.message", "1", chatCondition(),
		map[string]any{"unexpected": true})
	require.NoError(t, err)

	_, err = st.Recv(ctx)
	require.ErrorIs(t, err, twitch.ErrProtocol)

	// the stream is closed: a later valid event is not delivered, and Recv
	// keeps reporting the terminal error
	_, _ = ws.SendNotification(st.SubscriptionID(), "channel.chat.message", "1", chatCondition(), chatEvent("late"))
	_, err = st.Recv(ctx)
	assert.ErrorIs(t, err, twitch.ErrProtocol)

	require.NoError(t, st.Close())
}

func TestSubscribeReplacesDeadSession(t *testing.T) {
	_, ws, c := testSetup(t, "user:read:chat")
	ctx := context.Background()

	st, err := c.Subscribe(ctx, "channel.chat.message", "1", chatCondition())
	require.NoError(t, err)

	// simulate the session giving up for good, the way an exhausted redial
	// budget does
	c.mu.Lock()
	var dead *session
	for _, h := range c.sessions {
		dead = h.sess
	}
	c.mu.Unlock()
	require.NotNil(t, dead)
	dead.cancel()
	<-dead.stopped

	_, err = st.Recv(ctx)
	assert.ErrorIs(t, err, twitch.ErrStreamClosed)

	// a fresh subscribe must not reuse the dead handle
	st2, err := c.Subscribe(ctx, "channel.chat.message", "1", chatCondition())
	require.NoError(t, err)
	assert.Equal(t, 2, ws.WelcomeCount(), "dead session should be replaced by a new socket")

	_, err = ws.SendNotification(st2.SubscriptionID(), "channel.chat.message", "1", chatCondition(), chatEvent("fresh"))
	require.NoError(t, err)
	recvCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = st2.Recv(recvCtx)
	require.NoError(t, err)

	require.NoError(t, st2.Close())
	require.NoError(t, st.Close())
}

func TestHandoffDeliversStragglersFromOldSocket(t *testing.T) {
	_, wsA, c := testSetup(t, "user:read:chat")
	ctx := context.Background()

	st, err := c.Subscribe(ctx, "channel.chat.message", "1", chatCondition())
	require.NoError(t, err)

	wsB := mockeventsub.NewServer()
	defer wsB.Close()
	wsB.AdoptSessionID(wsA.LastSessionID())

	// the event lands on the old socket while the client is mid-handoff
	require.NoError(t, wsA.SendReconnect(wsB.URL()))
	_, err = wsA.SendNotification(st.SubscriptionID(), "channel.chat.message", "1", chatCondition(), chatEvent("straggler"))
	require.NoError(t, err)

	recvCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ev, err := st.Recv(recvCtx)
	require.NoError(t, err)
	var payload struct {
		Message struct {
			Text string `json:"text"`
		} `json:"message"`
	}
	require.NoError(t, ev.Decode(&payload))
	assert.Equal(t, "straggler", payload.Message.Text)

	require.Eventually(t, func() bool { return wsB.ConnectionCount() == 1 },
		5*time.Second, 20*time.Millisecond)
	require.NoError(t, st.Close())
}

func TestKeepaliveTrafficHoldsSessionOpen(t *testing.T) {
	if testing.Short() {
		t.Skip("multi-interval keepalive soak makes this test slow")
	}
	_, ws, c := testSetup(t, "user:read:chat")
	ws.SetKeepaliveSeconds(1)

	st, err := c.Subscribe(context.Background(), "channel.chat.message", "1", chatCondition())
	require.NoError(t, err)
	defer st.Close()

	// several watchdog intervals of regular traffic must not provoke a
	// reconnect
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, ws.SendKeepalive())
		time.Sleep(300 * time.Millisecond)
	}
	assert.Equal(t, 1, ws.WelcomeCount())

	_, err = ws.SendNotification(st.SubscriptionID(), "channel.chat.message", "1", chatCondition(), chatEvent("alive"))
	require.NoError(t, err)
	recvCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = st.Recv(recvCtx)
	require.NoError(t, err)
}
