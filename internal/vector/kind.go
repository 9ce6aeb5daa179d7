// Package vector defines the element kinds a tree can index and helpers to parse
// and widen typed vectors.
package vector

import (
	"fmt"
	"strings"
)

// Element is the set of coordinate types a vector may hold.
type Element interface {
	~int32 | ~int64 | ~uint8 | ~float32 | ~float64
}

// Kind names the element type of a vector.
type Kind int

const (
	// Int32 is a 32-bit signed integer element.
	Int32 Kind = iota
	// Int64 is a 64-bit signed integer element.
	Int64
	// Byte is an unsigned 8-bit element.
	Byte
	// Float32 is a single precision element.
	Float32
	// Float64 is a double precision element.
	Float64
)

var kindNames = map[Kind]string{
	Int32:   "int32",
	Int64:   "int64",
	Byte:    "byte",
	Float32: "float32",
	Float64: "float64",
}

// String returns the canonical lower-case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsInteger reports whether the kind holds integral values.
func (k Kind) IsInteger() bool {
	return k == Int32 || k == Int64 || k == Byte
}

// ParseKind resolves a kind from its name. Aliases such as "int", "long",
// "uint8", "float" and "double" are accepted.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int32", "int", "integer":
		return Int32, nil
	case "int64", "long":
		return Int64, nil
	case "byte", "uint8":
		return Byte, nil
	case "float32", "float":
		return Float32, nil
	case "float64", "double":
		return Float64, nil
	default:
		return 0, fmt.Errorf("unknown element kind: %q (supported: int32, int64, byte, float32, float64)", s)
	}
}

// KindOf returns the kind of the type parameter T.
func KindOf[T Element]() Kind {
	var zero T
	switch any(zero).(type) {
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Byte
	case float32:
		return Float32
	case float64:
		return Float64
	}
	// Named types fall through to a conversion probe.
	half, tiny, minusOne, big := 0.5, 1e-300, -1, int64(1)<<40
	switch {
	case T(half) != 0:
		if float64(T(tiny)) == 0 {
			return Float32
		}
		return Float64
	case T(minusOne) > 0:
		return Byte
	case int64(T(big)) == big:
		return Int64
	default:
		return Int32
	}
}
