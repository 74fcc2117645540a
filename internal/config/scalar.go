package config

import (
	"fmt"
	"strconv"
)

// Scalar is a tagged-union value for a source's arbitrary custom
// configuration keys (spec.md §6: "arbitrary custom scalar keys"). YAML
// gives these open-ended types; Scalar pins them down to string, int64,
// float64 or bool and stringifies deterministically for environment
// export (§4.5).
type Scalar struct {
	kind  scalarKind
	str   string
	i64   int64
	f64   float64
	boolV bool
}

type scalarKind int

const (
	scalarString scalarKind = iota
	scalarInt
	scalarFloat
	scalarBool
)

// UnmarshalYAML accepts whatever concrete Go type the yaml.v3 decoder
// produces for a bare scalar node and tags it accordingly.
func (s *Scalar) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		*s = Scalar{kind: scalarString, str: v}
	case int:
		*s = Scalar{kind: scalarInt, i64: int64(v)}
	case int64:
		*s = Scalar{kind: scalarInt, i64: v}
	case float64:
		*s = Scalar{kind: scalarFloat, f64: v}
	case bool:
		*s = Scalar{kind: scalarBool, boolV: v}
	default:
		return fmt.Errorf("unsupported scalar type %T", raw)
	}
	return nil
}

// String renders the scalar's value deterministically, independent of
// its tagged type, for use as an EGD_SOURCE_<KEY> environment value.
func (s Scalar) String() string {
	switch s.kind {
	case scalarString:
		return s.str
	case scalarInt:
		return strconv.FormatInt(s.i64, 10)
	case scalarFloat:
		return strconv.FormatFloat(s.f64, 'g', -1, 64)
	case scalarBool:
		return strconv.FormatBool(s.boolV)
	default:
		return ""
	}
}
