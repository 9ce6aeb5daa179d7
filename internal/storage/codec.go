package storage

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Property values are stored as a one byte type tag followed by the msgpack
// encoding of the value, so that decoding restores the exact Go type.
const (
	tagBool byte = iota + 1
	tagInt64
	tagFloat64
	tagString
	tagInt32s
	tagInt64s
	tagBytes
	tagFloat32s
	tagFloat64s
)

// EncodeValue encodes a property value. Plain int values are stored as int64.
func EncodeValue(v any) ([]byte, error) {
	var tag byte
	switch x := v.(type) {
	case bool:
		tag = tagBool
	case int:
		tag, v = tagInt64, int64(x)
	case int64:
		tag = tagInt64
	case float64:
		tag = tagFloat64
	case string:
		tag = tagString
	case []int32:
		tag = tagInt32s
	case []int64:
		tag = tagInt64s
	case []byte:
		tag = tagBytes
	case []float32:
		tag = tagFloat32s
	case []float64:
		tag = tagFloat64s
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
	body, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	return append([]byte{tag}, body...), nil
}

// DecodeValue decodes a value produced by EncodeValue.
func DecodeValue(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty encoding", ErrUnsupportedValue)
	}
	body := data[1:]
	switch data[0] {
	case tagBool:
		return decodeAs[bool](body)
	case tagInt64:
		return decodeAs[int64](body)
	case tagFloat64:
		return decodeAs[float64](body)
	case tagString:
		return decodeAs[string](body)
	case tagInt32s:
		return decodeSlice[int32](body)
	case tagInt64s:
		return decodeSlice[int64](body)
	case tagBytes:
		return decodeSlice[byte](body)
	case tagFloat32s:
		return decodeSlice[float32](body)
	case tagFloat64s:
		return decodeSlice[float64](body)
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrUnsupportedValue, data[0])
	}
}

func decodeAs[V any](body []byte) (any, error) {
	var v V
	if err := msgpack.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %T: %w", v, err)
	}
	return v, nil
}

// decodeSlice never returns a nil slice for an empty encoding.
func decodeSlice[E any](body []byte) (any, error) {
	var v []E
	if err := msgpack.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %T: %w", v, err)
	}
	if v == nil {
		v = []E{}
	}
	return v, nil
}
