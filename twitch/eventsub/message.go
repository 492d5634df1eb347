package eventsub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bjoelf/twitch-adapter/twitch"
)

// Metadata is the envelope header carried by every websocket message.
type Metadata struct {
	MessageID           string `json:"message_id"`
	MessageType         string `json:"message_type"`
	MessageTimestamp    string `json:"message_timestamp"`
	SubscriptionType    string `json:"subscription_type,omitempty"`
	SubscriptionVersion string `json:"subscription_version,omitempty"`
}

// SessionInfo describes the websocket session as reported by the server.
type SessionInfo struct {
	ID               string
	Status           string
	KeepaliveTimeout time.Duration
	ReconnectURL     string
}

// SubscriptionInfo is the subscription object embedded in notifications and
// revocations.
type SubscriptionInfo struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Cost      int               `json:"cost"`
}

// Message is one parsed websocket frame. The concrete type is Welcome,
// Keepalive, Notification, Reconnect or Revocation.
type Message interface {
	Meta() Metadata
}

// Welcome is the first message on a fresh socket; it names the session and
// the keepalive cadence.
type Welcome struct {
	Metadata Metadata
	Session  SessionInfo
}

// Keepalive signals that the session is alive while no events flow.
type Keepalive struct {
	Metadata Metadata
}

// Notification carries one event for one subscription.
type Notification struct {
	Metadata     Metadata
	Subscription SubscriptionInfo
	Event        json.RawMessage
}

// Reconnect instructs the client to move to a new URL; the old socket stays
// usable until the new one is welcomed.
type Reconnect struct {
	Metadata Metadata
	Session  SessionInfo
}

// Revocation announces that the server dropped a subscription.
type Revocation struct {
	Metadata     Metadata
	Subscription SubscriptionInfo
}

func (m Welcome) Meta() Metadata      { return m.Metadata }
func (m Keepalive) Meta() Metadata    { return m.Metadata }
func (m Notification) Meta() Metadata { return m.Metadata }
func (m Reconnect) Meta() Metadata    { return m.Metadata }
func (m Revocation) Meta() Metadata   { return m.Metadata }

type wireSession struct {
	ID                      string `json:"id"`
	Status                  string `json:"status"`
	KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
	ReconnectURL            string `json:"reconnect_url"`
}

func (w wireSession) info() SessionInfo {
	return SessionInfo{
		ID:               w.ID,
		Status:           w.Status,
		KeepaliveTimeout: time.Duration(w.KeepaliveTimeoutSeconds) * time.Second,
		ReconnectURL:     w.ReconnectURL,
	}
}

// ParseMessage decodes one raw websocket frame into its concrete message
// type. Unknown message types and malformed payloads are protocol errors.
func ParseMessage(data []byte) (Message, error) {
	var envelope struct {
		Metadata Metadata        `json:"metadata"`
		Payload  json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: malformed message envelope: %v", twitch.ErrProtocol, err)
	}
	meta := envelope.Metadata
	if meta.MessageID == "" || meta.MessageType == "" {
		return nil, fmt.Errorf("%w: message without id or type", twitch.ErrProtocol)
	}

	switch meta.MessageType {
	case "session_welcome":
		var p struct {
			Session wireSession `json:"session"`
		}
		if err := json.Unmarshal(envelope.Payload, &p); err != nil || p.Session.ID == "" {
			return nil, fmt.Errorf("%w: malformed welcome payload", twitch.ErrProtocol)
		}
		return Welcome{Metadata: meta, Session: p.Session.info()}, nil

	case "session_keepalive":
		return Keepalive{Metadata: meta}, nil

	case "notification":
		var p struct {
			Subscription SubscriptionInfo `json:"subscription"`
			Event        json.RawMessage  `json:"event"`
		}
		if err := json.Unmarshal(envelope.Payload, &p); err != nil || p.Subscription.ID == "" {
			return nil, fmt.Errorf("%w: malformed notification payload", twitch.ErrProtocol)
		}
		return Notification{Metadata: meta, Subscription: p.Subscription, Event: p.Event}, nil

	case "session_reconnect":
		var p struct {
			Session wireSession `json:"session"`
		}
		if err := json.Unmarshal(envelope.Payload, &p); err != nil || p.Session.ReconnectURL == "" {
			return nil, fmt.Errorf("%w: reconnect without a reconnect_url", twitch.ErrProtocol)
		}
		return Reconnect{Metadata: meta, Session: p.Session.info()}, nil

	case "revocation":
		var p struct {
			Subscription SubscriptionInfo `json:"subscription"`
		}
		if err := json.Unmarshal(envelope.Payload, &p); err != nil || p.Subscription.ID == "" {
			return nil, fmt.Errorf("%w: malformed revocation payload", twitch.ErrProtocol)
		}
		return Revocation{Metadata: meta, Subscription: p.Subscription}, nil

	default:
		return nil, fmt.Errorf("%w: unknown message_type %q", twitch.ErrProtocol, meta.MessageType)
	}
}
