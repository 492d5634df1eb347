package twitch

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the auth, helix and eventsub packages. Callers
// match them with errors.Is; richer failures wrap one of these.
var (
	// ErrConfig marks a configuration the selected flow cannot serve, such
	// as refreshing an implicit-grant token or a confidential flow without
	// a client secret.
	ErrConfig = errors.New("twitch: invalid configuration")

	// ErrAuthUnsupported means the endpoint does not accept the kind of
	// token the provider holds.
	ErrAuthUnsupported = errors.New("twitch: token kind not accepted by endpoint")

	// ErrScopeMissing means the token's granted scopes do not satisfy the
	// required scope expression.
	ErrScopeMissing = errors.New("twitch: required scope not granted")

	// ErrInvalidToken means the token is expired and cannot be refreshed,
	// or the validation endpoint rejected it.
	ErrInvalidToken = errors.New("twitch: token invalid")

	// ErrUnauthenticated means a request still failed with 401 after the
	// single automatic refresh.
	ErrUnauthenticated = errors.New("twitch: unauthenticated")

	// ErrProtocol marks a response the server should never send: payload
	// failing schema validation, an unexpected token_type, or an unknown
	// WebSocket message type.
	ErrProtocol = errors.New("twitch: protocol error")

	// ErrBadRequest means the caller-supplied query, body or condition
	// failed schema validation before anything was sent.
	ErrBadRequest = errors.New("twitch: invalid request")

	// ErrRateLimited means a 429 persisted after the single automatic
	// wait-and-retry.
	ErrRateLimited = errors.New("twitch: rate limited")

	// ErrTransport means the network failed after the retry budget was
	// exhausted.
	ErrTransport = errors.New("twitch: transport failure")

	// ErrUnknownKind means the (type, version) pair is not in the event
	// catalog.
	ErrUnknownKind = errors.New("twitch: unknown subscription kind")

	// ErrStreamClosed is returned by Recv after the stream was closed by
	// the caller.
	ErrStreamClosed = errors.New("twitch: stream closed")
)

// APIError is a known non-2xx Helix response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitch: helix error %d: %s", e.Status, e.Message)
}

// RevokedError terminates a subscription stream whose server-side
// subscription was revoked.
type RevokedError struct {
	Reason string // user_removed, authorization_revoked, version_removed, ...
}

func (e *RevokedError) Error() string {
	return fmt.Sprintf("twitch: subscription revoked: %s", e.Reason)
}
