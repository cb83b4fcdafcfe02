package rigscope

import (
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Float | constraints.Integer
}

func Filter[T any](slice []T, predicate func(T) bool) []T {
	filtered := make([]T, 0, len(slice))
	for _, elem := range slice {
		if predicate(elem) {
			filtered = append(filtered, elem)
		}
	}
	return filtered
}

func Min[T Number](a T, b T) T {
	if a > b {
		return b
	}

	return a
}

func Max[T Number](a T, b T) T {
	if a < b {
		return b
	}

	return a
}

// Fixed capacity FIFO. Pushing onto a full ring evicts exactly one element,
// the oldest.
//
// There is no mutex here: every ring in this package is owned by a structure
// guarded by the Dispatcher mutex, and a second lock would only invite
// deadlocks.
type ThreadUnsafeRing[T any] struct {
	data  []T
	start int
	count int
}

func NewRing[T any](capacity int) *ThreadUnsafeRing[T] {
	if capacity < 1 {
		capacity = 1
	}

	return &ThreadUnsafeRing[T]{
		data: make([]T, capacity),
	}
}

func (r *ThreadUnsafeRing[T]) Capacity() int {
	return len(r.data)
}

func (r *ThreadUnsafeRing[T]) Len() int {
	return r.count
}

// Push appends data and reports whether an old element was evicted to make
// room for it.
func (r *ThreadUnsafeRing[T]) Push(data T) bool {
	idx := (r.start + r.count) % len(r.data)
	r.data[idx] = data

	if r.count < len(r.data) {
		r.count++
		return false
	}

	r.start = (r.start + 1) % len(r.data)
	return true
}

func (r *ThreadUnsafeRing[T]) Clear() {
	var zero T
	for i := range r.data {
		r.data[i] = zero
	}

	r.start = 0
	r.count = 0
}

// ReadAllOrdered returns a copy of the content, oldest first.
func (r *ThreadUnsafeRing[T]) ReadAllOrdered() []T {
	return r.ReadLast(r.count)
}

// ReadLast returns a copy of the newest n elements, oldest first.
func (r *ThreadUnsafeRing[T]) ReadLast(n int) []T {
	n = Max(0, Min(n, r.count))
	arr := make([]T, 0, n)

	for i := r.count - n; i < r.count; i++ {
		arr = append(arr, r.data[(r.start+i)%len(r.data)])
	}

	return arr
}
