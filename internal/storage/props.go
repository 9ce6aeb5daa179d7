package storage

import "fmt"

// Int reads an integer property.
func Int(tx Tx, id NodeID, name string) (int64, bool, error) {
	return Typed[int64](tx, id, name)
}

// IntOr reads an integer property, returning def when it is absent.
func IntOr(tx Tx, id NodeID, name string, def int64) (int64, error) {
	v, ok, err := Int(tx, id, name)
	if err != nil || !ok {
		return def, err
	}
	return v, nil
}

// Bool reads a boolean property.
func Bool(tx Tx, id NodeID, name string) (bool, bool, error) {
	return Typed[bool](tx, id, name)
}

// BoolOr reads a boolean property, returning def when it is absent.
func BoolOr(tx Tx, id NodeID, name string, def bool) (bool, error) {
	v, ok, err := Bool(tx, id, name)
	if err != nil || !ok {
		return def, err
	}
	return v, nil
}

// String reads a string property.
func String(tx Tx, id NodeID, name string) (string, bool, error) {
	return Typed[string](tx, id, name)
}

// Float64s reads a []float64 property.
func Float64s(tx Tx, id NodeID, name string) ([]float64, bool, error) {
	return Typed[[]float64](tx, id, name)
}

// Typed reads a property of type V.
func Typed[V any](tx Tx, id NodeID, name string) (V, bool, error) {
	var zero V
	raw, ok, err := tx.Property(id, name)
	if err != nil || !ok {
		return zero, ok, err
	}
	v, ok := raw.(V)
	if !ok {
		return zero, false, fmt.Errorf("%w: %s on node %d is %T, want %T", ErrPropertyType, name, id, raw, zero)
	}
	return v, true, nil
}
