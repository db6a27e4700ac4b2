// Package predicate provides payload matchers used by failure strategies to
// decide whether they accept a failing event. Predicates see only the
// payload, so they stay free of engine types and can be unit tested in
// isolation.
package predicate

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/drblury/stageflow/internal/engine/jsoncodec"
)

// Predicate reports whether a payload matches.
type Predicate func(payload any) bool

// Always matches every payload.
func Always() Predicate {
	return func(any) bool { return true }
}

// Never matches no payload.
func Never() Predicate {
	return func(any) bool { return false }
}

// Not inverts p.
func Not(p Predicate) Predicate {
	return func(v any) bool { return !p(v) }
}

// And matches when every given predicate matches. With no arguments it
// behaves like Always.
func And(ps ...Predicate) Predicate {
	return func(v any) bool {
		for _, p := range ps {
			if !p(v) {
				return false
			}
		}
		return true
	}
}

// Or matches when at least one given predicate matches.
func Or(ps ...Predicate) Predicate {
	return func(v any) bool {
		for _, p := range ps {
			if p(v) {
				return true
			}
		}
		return false
	}
}

// JSONSchema compiles schema once and returns a predicate that matches
// payloads validating against it. Payloads that are not already JSON are
// encoded first; payloads that cannot be encoded never match.
func JSONSchema(schema string) (Predicate, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return func(payload any) bool {
		doc, ok := payloadLoader(payload)
		if !ok {
			return false
		}
		result, err := compiled.Validate(doc)
		if err != nil {
			return false
		}
		return result.Valid()
	}, nil
}

func payloadLoader(payload any) (gojsonschema.JSONLoader, bool) {
	switch v := payload.(type) {
	case []byte:
		return gojsonschema.NewBytesLoader(v), true
	case string:
		return gojsonschema.NewStringLoader(v), true
	default:
		encoded, err := jsoncodec.Marshal(payload)
		if err != nil {
			return nil, false
		}
		return gojsonschema.NewBytesLoader(encoded), true
	}
}
