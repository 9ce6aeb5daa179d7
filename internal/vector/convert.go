package vector

import "fmt"

// Canonical converts v to the plain slice type of its kind ([]int32, []int64,
// []byte, []float32 or []float64), the form in which vectors are persisted.
func Canonical[T Element](v []T) any {
	switch KindOf[T]() {
	case Int32:
		return convert[T, int32](v)
	case Int64:
		return convert[T, int64](v)
	case Byte:
		return convert[T, byte](v)
	case Float32:
		return convert[T, float32](v)
	default:
		return convert[T, float64](v)
	}
}

// FromCanonical converts a persisted slice back to []T. The slice type must
// match the kind of T.
func FromCanonical[T Element](raw any) ([]T, error) {
	want := KindOf[T]()
	switch x := raw.(type) {
	case []int32:
		if want == Int32 {
			return convert[int32, T](x), nil
		}
	case []int64:
		if want == Int64 {
			return convert[int64, T](x), nil
		}
	case []byte:
		if want == Byte {
			return convert[byte, T](x), nil
		}
	case []float32:
		if want == Float32 {
			return convert[float32, T](x), nil
		}
	case []float64:
		if want == Float64 {
			return convert[float64, T](x), nil
		}
	}
	return nil, fmt.Errorf("stored vector %T does not hold %s elements", raw, want)
}

func convert[S, D Element](v []S) []D {
	out := make([]D, len(v))
	for i, x := range v {
		out[i] = D(x)
	}
	return out
}
