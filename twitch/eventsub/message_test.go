package eventsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjoelf/twitch-adapter/twitch"
)

func TestParseWelcome(t *testing.T) {
	raw := []byte(`{
		"metadata": {"message_id": "m1", "message_type": "session_welcome", "message_timestamp": "2024-01-01T00:00:00Z"},
		"payload": {"session": {"id": "s1", "status": "connected", "keepalive_timeout_seconds": 10}}
	}`)
	msg, err := ParseMessage(raw)
	require.NoError(t, err)

	w, ok := msg.(Welcome)
	require.True(t, ok)
	assert.Equal(t, "m1", w.Meta().MessageID)
	assert.Equal(t, "s1", w.Session.ID)
	assert.Equal(t, 10*time.Second, w.Session.KeepaliveTimeout)
}

func TestParseNotification(t *testing.T) {
	raw := []byte(`{
		"metadata": {
			"message_id": "m2", "message_type": "notification",
			"message_timestamp": "2024-01-01T00:00:00Z",
			"subscription_type": "channel.follow", "subscription_version": "2"
		},
		"payload": {
			"subscription": {
				"id": "sub1", "status": "enabled", "type": "channel.follow", "version": "2",
				"condition": {"broadcaster_user_id": "1001", "moderator_user_id": "1001"}
			},
			"event": {"user_id": "2002", "broadcaster_user_id": "1001", "followed_at": "2024-01-01T00:00:00Z"}
		}
	}`)
	msg, err := ParseMessage(raw)
	require.NoError(t, err)

	n, ok := msg.(Notification)
	require.True(t, ok)
	assert.Equal(t, "sub1", n.Subscription.ID)
	assert.Equal(t, "channel.follow", n.Subscription.Type)
	assert.Equal(t, "1001", n.Subscription.Condition["broadcaster_user_id"])
	assert.JSONEq(t, `{"user_id":"2002","broadcaster_user_id":"1001","followed_at":"2024-01-01T00:00:00Z"}`, string(n.Event))
}

func TestParseReconnect(t *testing.T) {
	raw := []byte(`{
		"metadata": {"message_id": "m3", "message_type": "session_reconnect", "message_timestamp": "2024-01-01T00:00:00Z"},
		"payload": {"session": {"id": "s1", "status": "reconnecting", "reconnect_url": "wss://example/ws"}}
	}`)
	msg, err := ParseMessage(raw)
	require.NoError(t, err)

	r, ok := msg.(Reconnect)
	require.True(t, ok)
	assert.Equal(t, "wss://example/ws", r.Session.ReconnectURL)
}

func TestParseRevocation(t *testing.T) {
	raw := []byte(`{
		"metadata": {"message_id": "m4", "message_type": "revocation", "message_timestamp": "2024-01-01T00:00:00Z"},
		"payload": {"subscription": {"id": "sub1", "status": "authorization_revoked", "type": "channel.follow", "version": "2"}}
	}`)
	msg, err := ParseMessage(raw)
	require.NoError(t, err)

	r, ok := msg.(Revocation)
	require.True(t, ok)
	assert.Equal(t, "authorization_revoked", r.Subscription.Status)
}

func TestParseRejectsProtocolViolations(t *testing.T) {
	cases := map[string]string{
		"not json":            `{"metadata":`,
		"missing id":          `{"metadata": {"message_type": "session_keepalive"}, "payload": {}}`,
		"unknown type":        `{"metadata": {"message_id": "m", "message_type": "session_party"}, "payload": {}}`,
		"welcome w/o session": `{"metadata": {"message_id": "m", "message_type": "session_welcome"}, "payload": {}}`,
		"reconnect w/o url":   `{"metadata": {"message_id": "m", "message_type": "session_reconnect"}, "payload": {"session": {"id": "s"}}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMessage([]byte(raw))
			assert.ErrorIs(t, err, twitch.ErrProtocol)
		})
	}
}
