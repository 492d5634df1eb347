// Package auth implements the OAuth token lifecycle for Twitch: the four
// grant flows, the caching token provider with periodic validation, and the
// scope requirement predicate used for preflight checks.
package auth

import (
	"strings"

	"github.com/bjoelf/twitch-adapter/twitch"
)

// Requirement is a recursive scope expression: a single scope, all-of, or
// any-of. The zero value of the package-level None requirement is vacuously
// satisfied.
type Requirement interface {
	// Satisfies evaluates the expression against a set of granted scope
	// strings. Evaluation is pure.
	Satisfies(granted []string) bool
	String() string
}

// None is the empty requirement, satisfied by any grant set.
var None Requirement = allOf{}

// ScopeOf requires a single scope.
func ScopeOf(s twitch.Scope) Requirement { return scopeReq(s) }

// AllOf requires every child to be satisfied.
func AllOf(children ...Requirement) Requirement { return allOf(children) }

// AnyOf requires at least one child to be satisfied.
func AnyOf(children ...Requirement) Requirement { return anyOf(children) }

type scopeReq twitch.Scope

func (r scopeReq) Satisfies(granted []string) bool {
	for _, g := range granted {
		if g == string(r) {
			return true
		}
	}
	return false
}

func (r scopeReq) String() string { return string(r) }

type allOf []Requirement

func (r allOf) Satisfies(granted []string) bool {
	for _, c := range r {
		if !c.Satisfies(granted) {
			return false
		}
	}
	return true
}

func (r allOf) String() string { return join("all-of", r) }

type anyOf []Requirement

func (r anyOf) Satisfies(granted []string) bool {
	if len(r) == 0 {
		return true
	}
	for _, c := range r {
		if c.Satisfies(granted) {
			return true
		}
	}
	return false
}

func (r anyOf) String() string { return join("any-of", r) }

func join(op string, children []Requirement) string {
	if len(children) == 0 {
		return "none"
	}
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = c.String()
	}
	return op + "(" + strings.Join(parts, ", ") + ")"
}
