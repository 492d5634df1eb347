package eventsub

import (
	"github.com/bjoelf/twitch-adapter/twitch"
	"github.com/bjoelf/twitch-adapter/twitch/auth"
)

// Condition schemas reject unknown keys so a typo in a condition map fails
// before the request leaves the process.

func conditionSchema(required []string, optional ...string) string {
	props := ""
	for _, k := range append(append([]string{}, required...), optional...) {
		if props != "" {
			props += ","
		}
		props += `"` + k + `":{"type":"string","minLength":1}`
	}
	req := ""
	for _, k := range required {
		if req != "" {
			req += ","
		}
		req += `"` + k + `"`
	}
	return `{
		"type": "object",
		"properties": {` + props + `},
		"required": [` + req + `],
		"additionalProperties": false
	}`
}

func init() {
	broadcasterOnly := []string{"broadcaster_user_id"}

	register(&Definition{
		Type:    "channel.chat.message",
		Version: "1",
		ConditionSchema: twitch.MustSchema("channel.chat.message/1/condition",
			conditionSchema([]string{"broadcaster_user_id", "user_id"})),
		EventSchema: twitch.MustSchema("channel.chat.message/1/event", `{
			"type": "object",
			"properties": {
				"broadcaster_user_id": {"type": "string"},
				"broadcaster_user_login": {"type": "string"},
				"chatter_user_id": {"type": "string"},
				"chatter_user_login": {"type": "string"},
				"message_id": {"type": "string"},
				"message": {
					"type": "object",
					"properties": {"text": {"type": "string"}},
					"required": ["text"]
				},
				"message_type": {"type": "string"}
			},
			"required": ["broadcaster_user_id", "chatter_user_id", "message_id", "message"]
		}`),
		Auth: map[twitch.TokenKind]auth.Requirement{
			twitch.TokenUser: auth.ScopeOf(twitch.ScopeUserReadChat),
			twitch.TokenApp: auth.AllOf(
				auth.ScopeOf(twitch.ScopeUserReadChat),
				auth.ScopeOf(twitch.ScopeUserBot),
			),
		},
	})

	register(&Definition{
		Type:    "channel.follow",
		Version: "2",
		ConditionSchema: twitch.MustSchema("channel.follow/2/condition",
			conditionSchema([]string{"broadcaster_user_id", "moderator_user_id"})),
		EventSchema: twitch.MustSchema("channel.follow/2/event", `{
			"type": "object",
			"properties": {
				"user_id": {"type": "string"},
				"user_login": {"type": "string"},
				"user_name": {"type": "string"},
				"broadcaster_user_id": {"type": "string"},
				"broadcaster_user_login": {"type": "string"},
				"followed_at": {"type": "string"}
			},
			"required": ["user_id", "broadcaster_user_id", "followed_at"]
		}`),
		Auth: map[twitch.TokenKind]auth.Requirement{
			twitch.TokenUser: auth.ScopeOf(twitch.ScopeModeratorReadFollowers),
		},
	})

	register(&Definition{
		Type:    "channel.subscribe",
		Version: "1",
		ConditionSchema: twitch.MustSchema("channel.subscribe/1/condition",
			conditionSchema(broadcasterOnly)),
		EventSchema: twitch.MustSchema("channel.subscribe/1/event", `{
			"type": "object",
			"properties": {
				"user_id": {"type": "string"},
				"user_login": {"type": "string"},
				"broadcaster_user_id": {"type": "string"},
				"broadcaster_user_login": {"type": "string"},
				"tier": {"type": "string"},
				"is_gift": {"type": "boolean"}
			},
			"required": ["user_id", "broadcaster_user_id", "tier"]
		}`),
		Auth: map[twitch.TokenKind]auth.Requirement{
			twitch.TokenUser: auth.ScopeOf(twitch.ScopeChannelReadSubscriptions),
		},
	})

	register(&Definition{
		Type:    "channel.update",
		Version: "2",
		ConditionSchema: twitch.MustSchema("channel.update/2/condition",
			conditionSchema(broadcasterOnly)),
		EventSchema: twitch.MustSchema("channel.update/2/event", `{
			"type": "object",
			"properties": {
				"broadcaster_user_id": {"type": "string"},
				"broadcaster_user_login": {"type": "string"},
				"title": {"type": "string"},
				"language": {"type": "string"},
				"category_id": {"type": "string"},
				"category_name": {"type": "string"}
			},
			"required": ["broadcaster_user_id", "title"]
		}`),
		Auth: map[twitch.TokenKind]auth.Requirement{
			twitch.TokenUser: auth.None,
			twitch.TokenApp:  auth.None,
		},
	})

	register(&Definition{
		Type:    "stream.online",
		Version: "1",
		ConditionSchema: twitch.MustSchema("stream.online/1/condition",
			conditionSchema(broadcasterOnly)),
		EventSchema: twitch.MustSchema("stream.online/1/event", `{
			"type": "object",
			"properties": {
				"id": {"type": "string"},
				"broadcaster_user_id": {"type": "string"},
				"broadcaster_user_login": {"type": "string"},
				"type": {"type": "string"},
				"started_at": {"type": "string"}
			},
			"required": ["id", "broadcaster_user_id", "started_at"]
		}`),
		Auth: map[twitch.TokenKind]auth.Requirement{
			twitch.TokenUser: auth.None,
			twitch.TokenApp:  auth.None,
		},
	})

	register(&Definition{
		Type:    "stream.offline",
		Version: "1",
		ConditionSchema: twitch.MustSchema("stream.offline/1/condition",
			conditionSchema(broadcasterOnly)),
		EventSchema: twitch.MustSchema("stream.offline/1/event", `{
			"type": "object",
			"properties": {
				"broadcaster_user_id": {"type": "string"},
				"broadcaster_user_login": {"type": "string"}
			},
			"required": ["broadcaster_user_id"]
		}`),
		Auth: map[twitch.TokenKind]auth.Requirement{
			twitch.TokenUser: auth.None,
			twitch.TokenApp:  auth.None,
		},
	})

	register(&Definition{
		Type:    "channel.cheer",
		Version: "1",
		ConditionSchema: twitch.MustSchema("channel.cheer/1/condition",
			conditionSchema(broadcasterOnly)),
		EventSchema: twitch.MustSchema("channel.cheer/1/event", `{
			"type": "object",
			"properties": {
				"is_anonymous": {"type": "boolean"},
				"user_id": {"type": ["string", "null"]},
				"broadcaster_user_id": {"type": "string"},
				"message": {"type": "string"},
				"bits": {"type": "integer"}
			},
			"required": ["broadcaster_user_id", "bits"]
		}`),
		Auth: map[twitch.TokenKind]auth.Requirement{
			twitch.TokenUser: auth.ScopeOf(twitch.ScopeBitsRead),
		},
	})

	register(&Definition{
		Type:    "channel.raid",
		Version: "1",
		ConditionSchema: twitch.MustSchema("channel.raid/1/condition",
			conditionSchema(nil, "from_broadcaster_user_id", "to_broadcaster_user_id")),
		EventSchema: twitch.MustSchema("channel.raid/1/event", `{
			"type": "object",
			"properties": {
				"from_broadcaster_user_id": {"type": "string"},
				"from_broadcaster_user_login": {"type": "string"},
				"to_broadcaster_user_id": {"type": "string"},
				"to_broadcaster_user_login": {"type": "string"},
				"viewers": {"type": "integer"}
			},
			"required": ["from_broadcaster_user_id", "to_broadcaster_user_id", "viewers"]
		}`),
		Auth: map[twitch.TokenKind]auth.Requirement{
			twitch.TokenUser: auth.None,
			twitch.TokenApp:  auth.None,
		},
	})

	register(&Definition{
		Type:    "channel.ban",
		Version: "1",
		ConditionSchema: twitch.MustSchema("channel.ban/1/condition",
			conditionSchema(broadcasterOnly)),
		EventSchema: twitch.MustSchema("channel.ban/1/event", `{
			"type": "object",
			"properties": {
				"user_id": {"type": "string"},
				"user_login": {"type": "string"},
				"broadcaster_user_id": {"type": "string"},
				"moderator_user_id": {"type": "string"},
				"reason": {"type": "string"},
				"banned_at": {"type": "string"},
				"ends_at": {"type": ["string", "null"]},
				"is_permanent": {"type": "boolean"}
			},
			"required": ["user_id", "broadcaster_user_id", "banned_at"]
		}`),
		Auth: map[twitch.TokenKind]auth.Requirement{
			twitch.TokenUser: auth.ScopeOf(twitch.ScopeChannelModerate),
		},
	})

	register(&Definition{
		Type:    "channel.channel_points_custom_reward_redemption.add",
		Version: "1",
		ConditionSchema: twitch.MustSchema("channel.channel_points_custom_reward_redemption.add/1/condition",
			conditionSchema(broadcasterOnly, "reward_id")),
		EventSchema: twitch.MustSchema("channel.channel_points_custom_reward_redemption.add/1/event", `{
			"type": "object",
			"properties": {
				"id": {"type": "string"},
				"broadcaster_user_id": {"type": "string"},
				"user_id": {"type": "string"},
				"user_input": {"type": "string"},
				"status": {"type": "string"},
				"reward": {
					"type": "object",
					"properties": {
						"id": {"type": "string"},
						"title": {"type": "string"},
						"cost": {"type": "integer"}
					},
					"required": ["id", "title", "cost"]
				},
				"redeemed_at": {"type": "string"}
			},
			"required": ["id", "broadcaster_user_id", "user_id", "reward"]
		}`),
		Auth: map[twitch.TokenKind]auth.Requirement{
			twitch.TokenUser: auth.AnyOf(
				auth.ScopeOf(twitch.ScopeChannelReadRedemptions),
				auth.ScopeOf(twitch.ScopeChannelManageRedemptions),
			),
		},
	})
}
