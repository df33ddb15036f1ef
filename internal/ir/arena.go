package ir

import "fortio.org/safecast"

// Arena stores values addressed by 1-based indices; index 0 is never allocated.
type Arena[T any] struct {
	data []T
}

// NewArena creates an Arena with room for capHint values.
func NewArena[T any](capHint uint) *Arena[T] {
	return &Arena[T]{
		data: make([]T, 0, capHint),
	}
}

// Allocate appends value and returns its 1-based index.
func (a *Arena[T]) Allocate(value T) uint32 {
	a.data = append(a.data, value)
	n, err := safecast.Conv[uint32](len(a.data))
	if err != nil {
		panic(err)
	}
	return n
}

// Get returns the value at index, or the zero value for 0 and out-of-range indices.
func (a *Arena[T]) Get(index uint32) T {
	var zero T
	if index == 0 || int(index) > len(a.data) {
		return zero
	}
	return a.data[index-1]
}

// Len returns the number of allocated values.
func (a *Arena[T]) Len() uint32 {
	n, err := safecast.Conv[uint32](len(a.data))
	if err != nil {
		panic(err)
	}
	return n
}
