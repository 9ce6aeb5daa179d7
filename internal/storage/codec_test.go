package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecPreservesType(t *testing.T) {
	values := []any{
		true,
		int64(-42),
		3.25,
		"TOP",
		[]int32{1, -2},
		[]int64{1 << 40},
		[]byte{0, 255},
		[]float32{0.5},
		[]float64{-1, -1, 2.5},
		[]float64{},
	}
	for _, v := range values {
		raw, err := EncodeValue(v)
		require.NoError(t, err)
		got, err := DecodeValue(raw)
		require.NoError(t, err)
		assert.IsType(t, v, got)
		assert.Equal(t, v, got)
	}
}

func TestCodecIntBecomesInt64(t *testing.T) {
	raw, err := EncodeValue(7)
	require.NoError(t, err)
	got, err := DecodeValue(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)
}

func TestCodecRejectsUnsupported(t *testing.T) {
	_, err := EncodeValue(map[string]int{})
	assert.True(t, errors.Is(err, ErrUnsupportedValue))

	_, err = DecodeValue(nil)
	assert.True(t, errors.Is(err, ErrUnsupportedValue))

	_, err = DecodeValue([]byte{0xEE})
	assert.True(t, errors.Is(err, ErrUnsupportedValue))
}
