// Package reading provides an explicit optional value for sensor samples that may be
// unavailable on a given control tick.
package reading

// Reading is a sensor value that is either valid or missing.
type Reading[T any] struct {
	value T
	valid bool
}

// Of returns a valid reading holding v.
func Of[T any](v T) Reading[T] {
	return Reading[T]{value: v, valid: true}
}

// Missing returns a reading with no value.
func Missing[T any]() Reading[T] {
	return Reading[T]{}
}

// FromResult converts a (value, error) pair from a driver call into a reading.
func FromResult[T any](v T, err error) Reading[T] {
	if err != nil {
		return Missing[T]()
	}
	return Of(v)
}

// Get returns the value and whether it is valid.
func (r Reading[T]) Get() (T, bool) {
	return r.value, r.valid
}

// Valid reports whether the reading holds a value.
func (r Reading[T]) Valid() bool {
	return r.valid
}

// OrElse returns the value, or def when the reading is missing.
func (r Reading[T]) OrElse(def T) T {
	if !r.valid {
		return def
	}
	return r.value
}
