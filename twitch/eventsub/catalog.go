package eventsub

import (
	"fmt"
	"sort"

	"github.com/bjoelf/twitch-adapter/twitch"
	"github.com/bjoelf/twitch-adapter/twitch/auth"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Definition describes one subscribable event kind: its wire identity, the
// shape of its condition and event payloads, and the authorization each
// token kind needs to subscribe.
type Definition struct {
	Type    string
	Version string

	// ConditionSchema validates the condition map sent when subscribing.
	ConditionSchema *jsonschema.Schema
	// EventSchema validates the event object inside notifications.
	EventSchema *jsonschema.Schema

	// Auth maps a token kind to the scope requirement for subscribing with
	// it. A kind absent from the map cannot subscribe to this event at all.
	Auth map[twitch.TokenKind]auth.Requirement
}

// Key returns the catalog key for the definition.
func (d *Definition) Key() string { return d.Type + "/" + d.Version }

// Accepts reports whether the given token kind may subscribe, and if so
// which scope requirement applies.
func (d *Definition) Accepts(kind twitch.TokenKind) (auth.Requirement, bool) {
	req, ok := d.Auth[kind]
	return req, ok
}

// Lookup resolves a (type, version) pair against the catalog.
func Lookup(typ, version string) (*Definition, error) {
	d, ok := catalog[typ+"/"+version]
	if !ok {
		return nil, fmt.Errorf("%w: %s version %s", twitch.ErrUnknownKind, typ, version)
	}
	return d, nil
}

// Kinds returns every known (type, version) key, sorted.
func Kinds() []string {
	keys := make([]string, 0, len(catalog))
	for k := range catalog {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var catalog = map[string]*Definition{}

func register(d *Definition) {
	if _, dup := catalog[d.Key()]; dup {
		panic("eventsub: duplicate definition " + d.Key())
	}
	catalog[d.Key()] = d
}
