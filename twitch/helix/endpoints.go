package helix

import (
	"net/http"

	"github.com/bjoelf/twitch-adapter/twitch"
	"github.com/bjoelf/twitch-adapter/twitch/auth"
)

// The endpoint catalog. Closed and immutable; adding an operation is a data
// change only. Schemas intentionally allow unknown response fields so that
// server-side additions do not break deployed clients.

// CreateEventSubSubscription registers a server-side subscription against a
// transport. WebSocket transports require a user token whose scopes satisfy
// the event definition; the scope preflight happens in the eventsub package
// where the definition is known.
var CreateEventSubSubscription = &Endpoint{
	Name:   "CreateEventSubSubscription",
	Method: http.MethodPost,
	Path:   "/eventsub/subscriptions",
	BodySchema: twitch.MustSchema("create_eventsub_subscription_body", `{
		"type": "object",
		"required": ["type", "version", "condition", "transport"],
		"properties": {
			"type": {"type": "string", "minLength": 1},
			"version": {"type": "string", "minLength": 1},
			"condition": {"type": "object"},
			"transport": {
				"type": "object",
				"required": ["method"],
				"properties": {
					"method": {"enum": ["websocket", "webhook", "conduit"]},
					"session_id": {"type": "string"},
					"callback": {"type": "string"},
					"secret": {"type": "string"},
					"conduit_id": {"type": "string"}
				}
			}
		}
	}`),
	ResponseSchema: twitch.MustSchema("create_eventsub_subscription_response", `{
		"type": "object",
		"required": ["data"],
		"properties": {
			"data": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["id", "status", "type", "version"],
					"properties": {
						"id": {"type": "string"},
						"status": {"type": "string"},
						"type": {"type": "string"},
						"version": {"type": "string"},
						"condition": {"type": "object"},
						"cost": {"type": "integer"}
					}
				}
			},
			"total": {"type": "integer"},
			"total_cost": {"type": "integer"},
			"max_total_cost": {"type": "integer"}
		}
	}`),
	Success:     []int{http.StatusAccepted},
	KnownErrors: []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	Auth:        AuthAny,
}

// DeleteEventSubSubscription removes a server-side subscription by id.
var DeleteEventSubSubscription = &Endpoint{
	Name:   "DeleteEventSubSubscription",
	Method: http.MethodDelete,
	Path:   "/eventsub/subscriptions",
	QuerySchema: twitch.MustSchema("delete_eventsub_subscription_query", `{
		"type": "object",
		"required": ["id"],
		"properties": {"id": {"type": "string", "minLength": 1}}
	}`),
	Success:     []int{http.StatusNoContent},
	KnownErrors: []int{http.StatusBadRequest, http.StatusNotFound},
	Auth:        AuthAny,
}

// GetEventSubSubscriptions lists subscriptions, paginated.
var GetEventSubSubscriptions = &Endpoint{
	Name:   "GetEventSubSubscriptions",
	Method: http.MethodGet,
	Path:   "/eventsub/subscriptions",
	QuerySchema: twitch.MustSchema("get_eventsub_subscriptions_query", `{
		"type": "object",
		"properties": {
			"status": {"type": "string"},
			"type": {"type": "string"},
			"user_id": {"type": "string"},
			"after": {"type": "string"}
		}
	}`),
	ResponseSchema: twitch.MustSchema("get_eventsub_subscriptions_response", `{
		"type": "object",
		"required": ["data"],
		"properties": {
			"data": {"type": "array", "items": {"type": "object"}},
			"total": {"type": "integer"},
			"pagination": {
				"type": "object",
				"properties": {"cursor": {"type": "string"}}
			}
		}
	}`),
	Success:     []int{http.StatusOK},
	KnownErrors: []int{http.StatusBadRequest},
	Auth:        AuthAny,
}

// GetUsers resolves user ids and logins to user records.
var GetUsers = &Endpoint{
	Name:   "GetUsers",
	Method: http.MethodGet,
	Path:   "/users",
	QuerySchema: twitch.MustSchema("get_users_query", `{
		"type": "object",
		"properties": {
			"id": {"type": "string"},
			"login": {"type": "string"}
		}
	}`),
	ResponseSchema: twitch.MustSchema("get_users_response", `{
		"type": "object",
		"required": ["data"],
		"properties": {
			"data": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["id", "login", "display_name"],
					"properties": {
						"id": {"type": "string"},
						"login": {"type": "string"},
						"display_name": {"type": "string"},
						"email": {"type": "string"}
					}
				}
			}
		}
	}`),
	Success:     []int{http.StatusOK},
	KnownErrors: []int{http.StatusBadRequest},
	Auth:        AuthAny,
	// email only appears when user:read:email is granted; the endpoint
	// itself needs no scope.
}

// GetStreams lists live streams, paginated.
var GetStreams = &Endpoint{
	Name:   "GetStreams",
	Method: http.MethodGet,
	Path:   "/streams",
	QuerySchema: twitch.MustSchema("get_streams_query", `{
		"type": "object",
		"properties": {
			"user_id": {"type": "string"},
			"user_login": {"type": "string"},
			"game_id": {"type": "string"},
			"first": {"type": "string"},
			"after": {"type": "string"}
		}
	}`),
	ResponseSchema: twitch.MustSchema("get_streams_response", `{
		"type": "object",
		"required": ["data"],
		"properties": {
			"data": {"type": "array", "items": {"type": "object"}},
			"pagination": {
				"type": "object",
				"properties": {"cursor": {"type": "string"}}
			}
		}
	}`),
	Success:     []int{http.StatusOK},
	KnownErrors: []int{http.StatusBadRequest},
	Auth:        AuthAny,
}

// GetChannelInformation fetches broadcaster channel metadata.
var GetChannelInformation = &Endpoint{
	Name:   "GetChannelInformation",
	Method: http.MethodGet,
	Path:   "/channels",
	QuerySchema: twitch.MustSchema("get_channel_information_query", `{
		"type": "object",
		"required": ["broadcaster_id"],
		"properties": {"broadcaster_id": {"type": "string", "minLength": 1}}
	}`),
	ResponseSchema: twitch.MustSchema("get_channel_information_response", `{
		"type": "object",
		"required": ["data"],
		"properties": {
			"data": {"type": "array", "items": {"type": "object"}}
		}
	}`),
	Success:     []int{http.StatusOK},
	KnownErrors: []int{http.StatusBadRequest},
	Auth:        AuthAny,
}

// SendChatMessage posts a chat message to a broadcaster's chat.
var SendChatMessage = &Endpoint{
	Name:   "SendChatMessage",
	Method: http.MethodPost,
	Path:   "/chat/messages",
	BodySchema: twitch.MustSchema("send_chat_message_body", `{
		"type": "object",
		"required": ["broadcaster_id", "sender_id", "message"],
		"properties": {
			"broadcaster_id": {"type": "string", "minLength": 1},
			"sender_id": {"type": "string", "minLength": 1},
			"message": {"type": "string", "minLength": 1},
			"reply_parent_message_id": {"type": "string"}
		}
	}`),
	ResponseSchema: twitch.MustSchema("send_chat_message_response", `{
		"type": "object",
		"required": ["data"],
		"properties": {
			"data": {"type": "array", "items": {"type": "object"}}
		}
	}`),
	Success:       []int{http.StatusOK},
	KnownErrors:   []int{http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity},
	Auth:          AuthUser,
	RequiredScope: auth.AnyOf(auth.ScopeOf(twitch.ScopeUserWriteChat), auth.ScopeOf(twitch.ScopeChatEdit)),
}

// GetChatters lists users connected to a broadcaster's chat, paginated.
var GetChatters = &Endpoint{
	Name:   "GetChatters",
	Method: http.MethodGet,
	Path:   "/chat/chatters",
	QuerySchema: twitch.MustSchema("get_chatters_query", `{
		"type": "object",
		"required": ["broadcaster_id", "moderator_id"],
		"properties": {
			"broadcaster_id": {"type": "string", "minLength": 1},
			"moderator_id": {"type": "string", "minLength": 1},
			"first": {"type": "string"},
			"after": {"type": "string"}
		}
	}`),
	ResponseSchema: twitch.MustSchema("get_chatters_response", `{
		"type": "object",
		"required": ["data"],
		"properties": {
			"data": {"type": "array", "items": {"type": "object"}},
			"total": {"type": "integer"},
			"pagination": {
				"type": "object",
				"properties": {"cursor": {"type": "string"}}
			}
		}
	}`),
	Success:       []int{http.StatusOK},
	KnownErrors:   []int{http.StatusBadRequest, http.StatusForbidden},
	Auth:          AuthUser,
	RequiredScope: auth.ScopeOf(twitch.ScopeModeratorReadChatters),
}

// Endpoints enumerates the catalog.
func Endpoints() []*Endpoint {
	return []*Endpoint{
		CreateEventSubSubscription,
		DeleteEventSubSubscription,
		GetEventSubSubscriptions,
		GetUsers,
		GetStreams,
		GetChannelInformation,
		SendChatMessage,
		GetChatters,
	}
}
