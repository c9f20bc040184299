package observer

import (
	"fmt"
	"math"
	"strings"
)

// Node is one node of a stream's payload schema: an object with declared
// fields, an array with a single element schema, or a typed scalar.
type Node struct {
	Type string // "object", "array", "string", "number", "integer", "boolean"

	// object
	Fields     []Field
	AllowExtra bool // accept fields beyond the declared ones

	// array
	Elem *Node

	// string scalar: restrict to an enumerated set when non-empty
	Enum []string
}

// Field is a named member of an object schema.
type Field struct {
	Name     string
	Optional bool
	Schema   *Node
}

// Validate structurally matches a decoded JSON value against the schema.
// The returned error wraps ErrSchemaMismatch and names the offending path.
func (n *Node) Validate(value any) error {
	return n.validate(value, "$")
}

func (n *Node) validate(value any, path string) error {
	switch n.Type {
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return mismatch(path, "expected an object, got %T", value)
		}
		declared := make(map[string]struct{}, len(n.Fields))
		for _, f := range n.Fields {
			declared[f.Name] = struct{}{}
			fv, present := obj[f.Name]
			if !present {
				if f.Optional {
					continue
				}
				return mismatch(path, "missing required field %q", f.Name)
			}
			if err := f.Schema.validate(fv, path+"."+f.Name); err != nil {
				return err
			}
		}
		if !n.AllowExtra {
			for k := range obj {
				if _, ok := declared[k]; !ok {
					return mismatch(path, "unknown field %q", k)
				}
			}
		}
		return nil

	case "array":
		arr, ok := value.([]any)
		if !ok {
			return mismatch(path, "expected an array, got %T", value)
		}
		for i, e := range arr {
			if err := n.Elem.validate(e, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil

	case "string":
		s, ok := value.(string)
		if !ok {
			return mismatch(path, "expected a string, got %T", value)
		}
		if len(n.Enum) > 0 {
			for _, allowed := range n.Enum {
				if s == allowed {
					return nil
				}
			}
			return mismatch(path, "value %q is not one of [%s]", s, strings.Join(n.Enum, ", "))
		}
		return nil

	case "number":
		if _, ok := asNumber(value); !ok {
			return mismatch(path, "expected a number, got %T", value)
		}
		return nil

	case "integer":
		f, ok := asNumber(value)
		if !ok || f != math.Trunc(f) {
			return mismatch(path, "expected an integer, got %v", value)
		}
		return nil

	case "boolean":
		if _, ok := value.(bool); !ok {
			return mismatch(path, "expected a boolean, got %T", value)
		}
		return nil
	}
	return mismatch(path, "schema declares unknown type %q", n.Type)
}

func mismatch(path, format string, args ...any) error {
	return fmt.Errorf("%w at %s: %s", ErrSchemaMismatch, path, fmt.Sprintf(format, args...))
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
