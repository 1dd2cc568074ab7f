// Package pipeline provides the lazy sequence engine the query stages are
// built from. Iterators follow the Volcano pull contract: a sink drives
// Next one element at a time, Err reports a terminal failure after Next
// returns false, and Close releases upstream resources and propagates
// cancellation. All constructors are stateless package functions, so the
// engine is safe to share across concurrent queries.
package pipeline

// Iterator is a lazy sequence of values
type Iterator[T any] interface {
	// Next advances to the next value, returning false when the sequence
	// is exhausted or a terminal error occurred
	Next() bool

	// Value returns the current value; only valid after Next returned true
	Value() T

	// Err returns the terminal error, if any, once Next returned false
	Err() error

	// Close stops the sequence and releases upstream resources. It is safe
	// to call Close more than once and before exhaustion.
	Close() error
}

// sliceIterator iterates over a fixed slice
type sliceIterator[T any] struct {
	items []T
	pos   int
	cur   T
}

func (it *sliceIterator[T]) Next() bool {
	if it.pos >= len(it.items) {
		return false
	}
	it.cur = it.items[it.pos]
	it.pos++
	return true
}

func (it *sliceIterator[T]) Value() T     { return it.cur }
func (it *sliceIterator[T]) Err() error   { return nil }
func (it *sliceIterator[T]) Close() error { it.pos = len(it.items); return nil }

// Of returns a sequence over the given values
func Of[T any](items ...T) Iterator[T] {
	return &sliceIterator[T]{items: items}
}

// From returns a sequence over a slice
func From[T any](items []T) Iterator[T] {
	return &sliceIterator[T]{items: items}
}

// Empty returns an exhausted sequence
func Empty[T any]() Iterator[T] {
	return &sliceIterator[T]{}
}

// funcIterator adapts a producer function. The producer returns
// (value, ok, err); ok=false ends the sequence.
type funcIterator[T any] struct {
	produce func() (T, bool, error)
	cleanup func() error
	cur     T
	err     error
	done    bool
}

func (it *funcIterator[T]) Next() bool {
	if it.done {
		return false
	}
	v, ok, err := it.produce()
	if err != nil {
		it.err = err
		it.done = true
		return false
	}
	if !ok {
		it.done = true
		return false
	}
	it.cur = v
	return true
}

func (it *funcIterator[T]) Value() T   { return it.cur }
func (it *funcIterator[T]) Err() error { return it.err }

func (it *funcIterator[T]) Close() error {
	it.done = true
	if it.cleanup != nil {
		f := it.cleanup
		it.cleanup = nil
		return f()
	}
	return nil
}

// FromFunc returns a sequence driven by a producer function
func FromFunc[T any](produce func() (T, bool, error)) Iterator[T] {
	return &funcIterator[T]{produce: produce}
}

// FromFuncWithClose returns a producer-driven sequence with a cleanup hook
// invoked on Close
func FromFuncWithClose[T any](produce func() (T, bool, error), cleanup func() error) Iterator[T] {
	return &funcIterator[T]{produce: produce, cleanup: cleanup}
}

// Error returns a sequence that fails immediately
func Error[T any](err error) Iterator[T] {
	var zero T
	return FromFunc(func() (T, bool, error) { return zero, false, err })
}

// mapIterator applies a transform to each element
type mapIterator[T, U any] struct {
	src Iterator[T]
	f   func(T) (U, error)
	cur U
	err error
}

func (it *mapIterator[T, U]) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.src.Next() {
		it.err = it.src.Err()
		return false
	}
	v, err := it.f(it.src.Value())
	if err != nil {
		it.err = err
		return false
	}
	it.cur = v
	return true
}

func (it *mapIterator[T, U]) Value() U     { return it.cur }
func (it *mapIterator[T, U]) Err() error   { return it.err }
func (it *mapIterator[T, U]) Close() error { return it.src.Close() }

// Map transforms each element of a sequence
func Map[T, U any](src Iterator[T], f func(T) (U, error)) Iterator[U] {
	return &mapIterator[T, U]{src: src, f: f}
}

// Filter keeps elements for which keep returns true
func Filter[T any](src Iterator[T], keep func(T) bool) Iterator[T] {
	return FromFuncWithClose(func() (T, bool, error) {
		for src.Next() {
			if v := src.Value(); keep(v) {
				return v, true, nil
			}
		}
		var zero T
		return zero, false, src.Err()
	}, src.Close)
}

// flatMapIterator expands each element into a sub-sequence
type flatMapIterator[T, U any] struct {
	src Iterator[T]
	f   func(T) Iterator[U]
	sub Iterator[U]
	cur U
	err error
}

func (it *flatMapIterator[T, U]) Next() bool {
	if it.err != nil {
		return false
	}
	for {
		if it.sub != nil {
			if it.sub.Next() {
				it.cur = it.sub.Value()
				return true
			}
			if err := it.sub.Err(); err != nil {
				it.err = err
				_ = it.sub.Close()
				it.sub = nil
				return false
			}
			_ = it.sub.Close()
			it.sub = nil
		}
		if !it.src.Next() {
			it.err = it.src.Err()
			return false
		}
		it.sub = it.f(it.src.Value())
	}
}

func (it *flatMapIterator[T, U]) Value() U   { return it.cur }
func (it *flatMapIterator[T, U]) Err() error { return it.err }

func (it *flatMapIterator[T, U]) Close() error {
	if it.sub != nil {
		_ = it.sub.Close()
		it.sub = nil
	}
	return it.src.Close()
}

// FlatMap expands each element of a sequence into a sub-sequence,
// concatenating the results in order
func FlatMap[T, U any](src Iterator[T], f func(T) Iterator[U]) Iterator[U] {
	return &flatMapIterator[T, U]{src: src, f: f}
}

// mergeIterator interleaves several sources round-robin. Per-source order
// is preserved; exhausted sources drop out of the rotation.
type mergeIterator[T any] struct {
	srcs []Iterator[T]
	next int
	cur  T
	err  error
}

func (it *mergeIterator[T]) Next() bool {
	if it.err != nil {
		return false
	}
	for len(it.srcs) > 0 {
		if it.next >= len(it.srcs) {
			it.next = 0
		}
		src := it.srcs[it.next]
		if src.Next() {
			it.cur = src.Value()
			it.next++
			return true
		}
		if err := src.Err(); err != nil {
			it.err = err
			return false
		}
		_ = src.Close()
		it.srcs = append(it.srcs[:it.next], it.srcs[it.next+1:]...)
	}
	return false
}

func (it *mergeIterator[T]) Value() T   { return it.cur }
func (it *mergeIterator[T]) Err() error { return it.err }

func (it *mergeIterator[T]) Close() error {
	var firstErr error
	for _, src := range it.srcs {
		if err := src.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	it.srcs = nil
	return firstErr
}

// Merge interleaves several sequences. Elements of each source keep their
// relative order; interleaving across sources is unspecified.
func Merge[T any](srcs ...Iterator[T]) Iterator[T] {
	switch len(srcs) {
	case 0:
		return Empty[T]()
	case 1:
		return srcs[0]
	}
	return &mergeIterator[T]{srcs: srcs}
}

// Skip drops the first n elements
func Skip[T any](src Iterator[T], n int) Iterator[T] {
	skipped := 0
	return FromFuncWithClose(func() (T, bool, error) {
		for skipped < n {
			if !src.Next() {
				var zero T
				return zero, false, src.Err()
			}
			skipped++
		}
		if !src.Next() {
			var zero T
			return zero, false, src.Err()
		}
		return src.Value(), true, nil
	}, src.Close)
}

// Limit keeps at most n elements
func Limit[T any](src Iterator[T], n int) Iterator[T] {
	count := 0
	return FromFuncWithClose(func() (T, bool, error) {
		var zero T
		if count >= n {
			return zero, false, nil
		}
		if !src.Next() {
			return zero, false, src.Err()
		}
		count++
		return src.Value(), true, nil
	}, src.Close)
}

// ForEach drains a sequence, invoking f per element. The sequence is
// closed before returning. An error from f stops consumption.
func ForEach[T any](src Iterator[T], f func(T) error) error {
	defer func() { _ = src.Close() }()
	for src.Next() {
		if err := f(src.Value()); err != nil {
			return err
		}
	}
	return src.Err()
}

// Collect drains a sequence into a slice
func Collect[T any](src Iterator[T]) ([]T, error) {
	var out []T
	err := ForEach(src, func(v T) error {
		out = append(out, v)
		return nil
	})
	return out, err
}
