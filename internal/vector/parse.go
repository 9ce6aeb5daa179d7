package vector

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ParseElements converts textual numbers into a vector of T. Integer kinds
// reject fractional input and values outside the kind's range.
func ParseElements[T Element](fields []string) ([]T, error) {
	kind := KindOf[T]()
	out := make([]T, len(fields))
	for i, f := range fields {
		f = strings.TrimSpace(f)
		switch kind {
		case Byte:
			u, err := strconv.ParseUint(f, 10, 8)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = T(u)
		case Int32, Int64:
			bits := 32
			if kind == Int64 {
				bits = 64
			}
			n, err := strconv.ParseInt(f, 10, bits)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = T(n)
		default:
			bits := 64
			if kind == Float32 {
				bits = 32
			}
			x, err := strconv.ParseFloat(f, bits)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = T(x)
		}
	}
	return out, nil
}

// ParseVector splits s on commas and whitespace, optionally wrapped in
// brackets, and parses the fields.
func ParseVector[T Element](s string) ([]T, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty vector")
	}
	return ParseElements[T](fields)
}

// Float64s widens v to float64.
func Float64s[T Element](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// Format renders v as a comma separated list.
func Format[T Element](v []T) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}
