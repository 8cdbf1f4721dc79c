// Package registry implements C11: the tool handler table. Each handler
// declares a name, a restricted JSON-Schema-like input schema, and an
// operation function; the registry validates arguments before invoking the
// handler and layers optional per-handler result caching through the
// admission layer (C5) so cached results remain subject to the token-aware
// admission invariant.
package registry

import (
	"fmt"

	"github.com/compresr/token-optimizer/internal/apperrors"
)

// Property is one field of a Schema, restricted to the subset the spec
// requires validation to enforce: type, enum, pattern, minimum, maximum,
// default, description (spec §6).
type Property struct {
	Type        string
	Description string
	Enum        []string
	Minimum     *float64
	Maximum     *float64
	Default     any
	Pattern     string
}

// Schema is a handler's declared input shape.
type Schema struct {
	Type       string
	Properties map[string]Property
	Required   []string
}

// ValidateArgs enforces required, type, enum and pattern against args,
// returning an InvalidArgument error naming every failing field so a caller
// can fix all of them in one round trip rather than one-at-a-time (spec
// §4.11: "rejects with a descriptive InvalidArgument error naming the
// failing field(s)").
func ValidateArgs(schema Schema, args map[string]any) error {
	var problems []string

	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			problems = append(problems, fmt.Sprintf("%q is required", name))
		}
	}

	for name, value := range args {
		prop, ok := schema.Properties[name]
		if !ok {
			continue // unknown fields are tolerated, not rejected
		}
		if msg := validateProperty(name, prop, value); msg != "" {
			problems = append(problems, msg)
		}
	}

	if len(problems) > 0 {
		return apperrors.InvalidArgument("invalid arguments: %v", problems)
	}
	return nil
}

func validateProperty(name string, prop Property, value any) string {
	if prop.Type != "" {
		if !matchesType(prop.Type, value) {
			return fmt.Sprintf("%q must be of type %s", name, prop.Type)
		}
	}

	if len(prop.Enum) > 0 {
		s, ok := value.(string)
		if !ok || !contains(prop.Enum, s) {
			return fmt.Sprintf("%q must be one of %v", name, prop.Enum)
		}
	}

	if n, ok := asFloat(value); ok {
		if prop.Minimum != nil && n < *prop.Minimum {
			return fmt.Sprintf("%q must be >= %v", name, *prop.Minimum)
		}
		if prop.Maximum != nil && n > *prop.Maximum {
			return fmt.Sprintf("%q must be <= %v", name, *prop.Maximum)
		}
	}

	if prop.Pattern != "" {
		s, ok := value.(string)
		if ok && !matchesPattern(prop.Pattern, s) {
			return fmt.Sprintf("%q does not match required pattern", name)
		}
	}

	return ""
}

func matchesType(t string, v any) bool {
	switch t {
	case "string":
		_, ok := v.(string)
		return ok
	case "number", "integer":
		_, ok := asFloat(v)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func matchesPattern(pattern, s string) bool {
	re, err := compileCache.get(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
