package twitch

// Scope is a named permission attached to a user access token.
type Scope string

// The closed vocabulary of Twitch scopes. Validation responses may carry
// strings outside this list; they are preserved verbatim rather than
// rejected.
const (
	ScopeAnalyticsReadExtensions Scope = "analytics:read:extensions"
	ScopeAnalyticsReadGames      Scope = "analytics:read:games"
	ScopeBitsRead                Scope = "bits:read"

	ScopeChannelBot                Scope = "channel:bot"
	ScopeChannelEditCommercial     Scope = "channel:edit:commercial"
	ScopeChannelManageAds          Scope = "channel:manage:ads"
	ScopeChannelManageBroadcast    Scope = "channel:manage:broadcast"
	ScopeChannelManageExtensions   Scope = "channel:manage:extensions"
	ScopeChannelManageGuestStar    Scope = "channel:manage:guest_star"
	ScopeChannelManageModerators   Scope = "channel:manage:moderators"
	ScopeChannelManagePolls        Scope = "channel:manage:polls"
	ScopeChannelManagePredictions  Scope = "channel:manage:predictions"
	ScopeChannelManageRaids        Scope = "channel:manage:raids"
	ScopeChannelManageRedemptions  Scope = "channel:manage:redemptions"
	ScopeChannelManageSchedule     Scope = "channel:manage:schedule"
	ScopeChannelManageVideos       Scope = "channel:manage:videos"
	ScopeChannelManageVIPs         Scope = "channel:manage:vips"
	ScopeChannelModerate           Scope = "channel:moderate"
	ScopeChannelReadAds            Scope = "channel:read:ads"
	ScopeChannelReadCharity        Scope = "channel:read:charity"
	ScopeChannelReadEditors        Scope = "channel:read:editors"
	ScopeChannelReadGoals          Scope = "channel:read:goals"
	ScopeChannelReadGuestStar      Scope = "channel:read:guest_star"
	ScopeChannelReadHypeTrain      Scope = "channel:read:hype_train"
	ScopeChannelReadPolls          Scope = "channel:read:polls"
	ScopeChannelReadPredictions    Scope = "channel:read:predictions"
	ScopeChannelReadRedemptions    Scope = "channel:read:redemptions"
	ScopeChannelReadStreamKey      Scope = "channel:read:stream_key"
	ScopeChannelReadSubscriptions  Scope = "channel:read:subscriptions"
	ScopeChannelReadVIPs           Scope = "channel:read:vips"
	ScopeChannelSubscriptionsEdit  Scope = "channel:edit:subscriptions"
	ScopeClipsEdit                 Scope = "clips:edit"
	ScopeModerationRead            Scope = "moderation:read"
	ScopeModeratorManageAnnounce   Scope = "moderator:manage:announcements"
	ScopeModeratorManageAutomod    Scope = "moderator:manage:automod"
	ScopeModeratorManageAutomodCfg Scope = "moderator:manage:automod_settings"
	ScopeModeratorManageBans       Scope = "moderator:manage:banned_users"
	ScopeModeratorManageBlocked    Scope = "moderator:manage:blocked_terms"
	ScopeModeratorManageChatMsgs   Scope = "moderator:manage:chat_messages"
	ScopeModeratorManageChatCfg    Scope = "moderator:manage:chat_settings"
	ScopeModeratorManageGuestStar  Scope = "moderator:manage:guest_star"
	ScopeModeratorManageShield     Scope = "moderator:manage:shield_mode"
	ScopeModeratorManageShoutouts  Scope = "moderator:manage:shoutouts"
	ScopeModeratorManageUnbanReq   Scope = "moderator:manage:unban_requests"
	ScopeModeratorManageWarnings   Scope = "moderator:manage:warnings"
	ScopeModeratorReadAutomodCfg   Scope = "moderator:read:automod_settings"
	ScopeModeratorReadBans         Scope = "moderator:read:banned_users"
	ScopeModeratorReadBlocked      Scope = "moderator:read:blocked_terms"
	ScopeModeratorReadChatMsgs     Scope = "moderator:read:chat_messages"
	ScopeModeratorReadChatCfg      Scope = "moderator:read:chat_settings"
	ScopeModeratorReadChatters     Scope = "moderator:read:chatters"
	ScopeModeratorReadFollowers    Scope = "moderator:read:followers"
	ScopeModeratorReadGuestStar    Scope = "moderator:read:guest_star"
	ScopeModeratorReadModerators   Scope = "moderator:read:moderators"
	ScopeModeratorReadShield       Scope = "moderator:read:shield_mode"
	ScopeModeratorReadShoutouts    Scope = "moderator:read:shoutouts"
	ScopeModeratorReadSuspicious   Scope = "moderator:read:suspicious_users"
	ScopeModeratorReadUnbanReq     Scope = "moderator:read:unban_requests"
	ScopeModeratorReadVIPs         Scope = "moderator:read:vips"
	ScopeModeratorReadWarnings     Scope = "moderator:read:warnings"

	ScopeUserBot                 Scope = "user:bot"
	ScopeUserEdit                Scope = "user:edit"
	ScopeUserEditBroadcast       Scope = "user:edit:broadcast"
	ScopeUserManageBlockedUsers  Scope = "user:manage:blocked_users"
	ScopeUserManageChatColor     Scope = "user:manage:chat_color"
	ScopeUserManageWhispers      Scope = "user:manage:whispers"
	ScopeUserReadBlockedUsers    Scope = "user:read:blocked_users"
	ScopeUserReadBroadcast       Scope = "user:read:broadcast"
	ScopeUserReadChat            Scope = "user:read:chat"
	ScopeUserReadEmail           Scope = "user:read:email"
	ScopeUserReadEmotes          Scope = "user:read:emotes"
	ScopeUserReadFollows         Scope = "user:read:follows"
	ScopeUserReadModeratedChans  Scope = "user:read:moderated_channels"
	ScopeUserReadSubscriptions   Scope = "user:read:subscriptions"
	ScopeUserReadWhispers        Scope = "user:read:whispers"
	ScopeUserWriteChat           Scope = "user:write:chat"
	ScopeChatRead                Scope = "chat:read"
	ScopeChatEdit                Scope = "chat:edit"
	ScopeWhispersRead            Scope = "whispers:read"
	ScopeWhispersEdit            Scope = "whispers:edit"
)

// JoinScopes renders scopes as the space-separated string the authorize and
// token endpoints expect.
func JoinScopes(scopes []Scope) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += " "
		}
		out += string(s)
	}
	return out
}

// ScopeStrings converts the typed scope list to the raw strings stored on a
// token.
func ScopeStrings(scopes []Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}
