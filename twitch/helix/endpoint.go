// Package helix implements the authenticated Helix REST pipeline: a closed
// endpoint catalog, per-bucket rate limiting that mirrors the server's token
// bucket headers, and a request pipeline with schema validation,
// reauth-on-401 and cursor pagination.
package helix

import (
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/bjoelf/twitch-adapter/twitch/auth"
)

// AuthKind restricts which token kinds an endpoint accepts.
type AuthKind int

const (
	// AuthAny accepts both app and user tokens.
	AuthAny AuthKind = iota
	// AuthApp accepts only app access tokens.
	AuthApp
	// AuthUser accepts only user access tokens.
	AuthUser
)

// Endpoint describes one Helix REST operation: where it lives, what it
// accepts, and what it returns. Descriptors are plain data consumed by the
// client; none embeds networking logic.
type Endpoint struct {
	Name   string
	Method string
	Path   string // relative to the Helix base, with leading slash

	QuerySchema    *jsonschema.Schema
	BodySchema     *jsonschema.Schema
	ResponseSchema *jsonschema.Schema

	Success     []int // statuses treated as success
	KnownErrors []int // non-success statuses mapped to *twitch.APIError

	Auth          AuthKind
	RequiredScope auth.Requirement // user-token scope expression, may be nil

	// Timeout overrides the default 30 s wall clock for this endpoint.
	Timeout time.Duration
}

func (e *Endpoint) isSuccess(status int) bool {
	for _, s := range e.Success {
		if s == status {
			return true
		}
	}
	return false
}

func (e *Endpoint) isKnownError(status int) bool {
	for _, s := range e.KnownErrors {
		if s == status {
			return true
		}
	}
	return false
}

func (e *Endpoint) acceptsKind(user bool) bool {
	switch e.Auth {
	case AuthApp:
		return !user
	case AuthUser:
		return user
	default:
		return true
	}
}
