package chat

import (
	"bytes"
	"encoding/json"
)

// Optional is a JSON value that remembers whether its key was present.
// A present null is Set but not Valid.
type Optional[T any] struct {
	Value T
	Valid bool
	Set   bool
}

// Some returns a present, non-null Optional.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Valid: true, Set: true}
}

// Null returns a present null Optional.
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true}
}

// IsZero reports whether the key was absent; used by the omitzero tag.
func (o Optional[T]) IsZero() bool {
	return !o.Set
}

// Ptr returns a pointer to a copy of the value, or nil for null.
func (o Optional[T]) Ptr() *T {
	if !o.Valid {
		return nil
	}
	v := o.Value
	return &v
}

// MarshalJSON implements json.Marshaler.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		var zero T
		o.Value = zero
		o.Valid = false
		return nil
	}
	if err := json.Unmarshal(data, &o.Value); err != nil {
		return err
	}
	o.Valid = true
	return nil
}
