// Package route implements a typed path+query pattern table: parse
// patterns like "/{device}/sample?from={unsigned_integer}&count={integer:100}",
// match incoming requests against them in insertion order, and coerce
// captured parameters to their declared types.
package route

import (
	"fmt"
	"strconv"
)

// ParamType is one of the five coercion types a pattern can declare.
type ParamType string

const (
	TypeString          ParamType = "string"
	TypeInteger         ParamType = "integer"
	TypeUnsignedInteger ParamType = "unsigned_integer"
	TypeDouble          ParamType = "double"
	TypeBool            ParamType = "bool"
)

// ParameterError is returned when a captured parameter fails to coerce
// to its declared type; the dispatcher renders this as HTTP 400.
type ParameterError struct {
	Name  string
	Type  ParamType
	Value string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("parameter %q: cannot coerce %q to %s", e.Name, e.Value, e.Type)
}

// Coerce converts a raw string to the Go value a ParamType represents:
// string, int64, uint64, float64, or bool.
func Coerce(t ParamType, raw string) (any, error) {
	switch t {
	case TypeString:
		return raw, nil
	case TypeInteger:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		return v, nil
	case TypeUnsignedInteger:
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		return v, nil
	case TypeDouble:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, err
		}
		return v, nil
	case TypeBool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return raw, nil
	}
}
