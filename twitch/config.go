package twitch

// Endpoints holds the service URLs the library talks to. Production values
// are fixed by Twitch; tests override them to point at mock servers.
type Endpoints struct {
	AuthURL     string // authorization page (browser redirect target)
	TokenURL    string // token issuance and refresh
	DeviceURL   string // device code issuance
	ValidateURL string // token validation
	HelixURL    string // Helix REST base, no trailing slash
	EventSubURL string // EventSub WebSocket welcome URL
}

// DefaultEndpoints returns the production Twitch endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		AuthURL:     "https://id.twitch.tv/oauth2/authorize",
		TokenURL:    "https://id.twitch.tv/oauth2/token",
		DeviceURL:   "https://id.twitch.tv/oauth2/device",
		ValidateURL: "https://id.twitch.tv/oauth2/validate",
		HelixURL:    "https://api.twitch.tv/helix",
		EventSubURL: "wss://eventsub.wss.twitch.tv/ws",
	}
}
