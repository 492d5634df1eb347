package twitch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// MustSchema compiles a JSON Schema document authored as a string literal.
// The catalogs compile their schemas once at package init; a malformed
// schema is a programming error and panics.
func MustSchema(name, src string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name+".json", doc); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	sch, err := c.Compile(name + ".json")
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return sch
}

// ValidateJSON checks raw JSON against a schema. Schema violations and
// malformed JSON are both protocol-level failures.
func ValidateJSON(sch *jsonschema.Schema, data []byte) error {
	if sch == nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: malformed JSON: %v", ErrProtocol, err)
	}
	return ValidateValue(sch, v)
}

// ValidateValue checks an already-decoded value against a schema.
func ValidateValue(sch *jsonschema.Schema, v any) error {
	if sch == nil {
		return nil
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return nil
}
