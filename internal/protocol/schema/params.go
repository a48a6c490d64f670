package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// Runtime type tags compared against Param.Type.
const (
	TypeNumber    = "number"
	TypeString    = "string"
	TypeBoolean   = "boolean"
	TypeObject    = "object"
	TypeArray     = "array"
	TypeAny       = "any"
	TypeUndefined = "undefined"
)

// PrepareParameters consumes positional args against the ordered parameter
// schema and returns the params object for the wire. A nil arg in an optional
// slot is skipped. Nothing is sent when an error is returned.
func (c *Command) PrepareParameters(args []any) (json.RawMessage, error) {
	params := make(map[string]any, len(c.Params))
	rest := args
	for _, p := range c.Params {
		if len(rest) == 0 {
			if p.Optional {
				continue
			}
			return nil, ValidationError{
				Method: c.Name,
				Param:  p.Name,
				Reason: fmt.Sprintf("invalid number of arguments: expected at least %d, got %d", c.requiredCount(), len(args)),
			}
		}
		value := rest[0]
		rest = rest[1:]

		tag := TypeTag(value)
		if tag == TypeUndefined {
			if p.Optional {
				continue
			}
			return nil, ValidationError{Method: c.Name, Param: p.Name, Reason: "required argument is nil"}
		}
		if !typeMatches(p.Type, tag) {
			return nil, ValidationError{
				Method: c.Name,
				Param:  p.Name,
				Reason: fmt.Sprintf("invalid type of argument: must be %q but it is %q", p.Type, tag),
			}
		}
		params[p.Name] = value
	}
	if len(rest) > 0 {
		return nil, ValidationError{
			Method: c.Name,
			Reason: fmt.Sprintf("extra %d arguments", len(rest)),
		}
	}
	if len(params) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, ValidationError{Method: c.Name, Reason: err.Error()}
	}
	return raw, nil
}

// Reply extracts the first named reply field from a result object, or nil when
// the command declares no reply fields.
func (c *Command) Reply(result json.RawMessage) json.RawMessage {
	if len(c.ReplyArgs) == 0 || len(result) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(result, &fields); err != nil {
		return nil
	}
	return fields[c.ReplyArgs[0]]
}

func (c *Command) requiredCount() int {
	n := 0
	for _, p := range c.Params {
		if !p.Optional {
			n++
		}
	}
	return n
}

func typeMatches(want, got string) bool {
	switch want {
	case TypeAny, "":
		return true
	case TypeObject:
		return got == TypeObject || got == TypeArray
	default:
		return want == got
	}
}

// TypeTag returns the runtime type tag of a Go value as it would appear once
// marshalled to JSON.
func TypeTag(v any) string {
	if v == nil {
		return TypeUndefined
	}
	switch t := v.(type) {
	case json.RawMessage:
		return rawTag(t)
	case json.Number:
		return TypeNumber
	case json.Marshaler:
		raw, err := t.MarshalJSON()
		if err != nil {
			return TypeAny
		}
		return rawTag(raw)
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return TypeUndefined
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Bool:
		return TypeBoolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return TypeNumber
	case reflect.String:
		return TypeString
	case reflect.Slice:
		if rv.IsNil() {
			return TypeUndefined
		}
		return TypeArray
	case reflect.Array:
		return TypeArray
	case reflect.Map:
		if rv.IsNil() {
			return TypeUndefined
		}
		return TypeObject
	case reflect.Struct:
		return TypeObject
	default:
		return TypeAny
	}
}

func rawTag(raw []byte) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return TypeUndefined
	}
	switch raw[0] {
	case '{':
		return TypeObject
	case '[':
		return TypeArray
	case '"':
		return TypeString
	case 't', 'f':
		return TypeBoolean
	case 'n':
		return TypeUndefined
	default:
		return TypeNumber
	}
}
