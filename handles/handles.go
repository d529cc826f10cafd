// Package handles maps opaque integer handles to Go values so that
// objects can be referenced across a foreign boundary without exposing
// pointers.
package handles

import (
	"errors"
	"math"
	"sync"
)

// ErrInvalidHandle is returned for handles that were never issued by the
// table, or whose object has since been removed.
var ErrInvalidHandle = errors.New("handles: invalid handle")

// Handle packs a slot generation (high 32 bits, always >= 1) and a slot
// index (low 32 bits). Every valid handle is therefore >= 1<<32 and
// negative values are never issued.
type Handle int64

func makeHandle(gen uint32, index uint32) Handle {
	return Handle(int64(gen)<<32 | int64(index))
}

func (h Handle) generation() uint32 {
	return uint32(uint64(h) >> 32)
}

func (h Handle) index() uint32 {
	return uint32(uint64(h) & math.MaxUint32)
}

type slot[T any] struct {
	gen   uint32
	used  bool
	value T
}

// Table is a generational arena. Removing an object bumps its slot's
// generation, so handles to the old object stop resolving even after the
// slot is reused.
type Table[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
	count int
}

func New[T any]() *Table[T] {
	return &Table[T]{}
}

// Insert stores value and returns its handle.
func (t *Table[T]) Insert(value T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var index uint32
	if n := len(t.free); n > 0 {
		index = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, slot[T]{})
		index = uint32(len(t.slots) - 1)
	}
	s := &t.slots[index]
	s.gen++
	if s.gen == 0 || s.gen > math.MaxInt32 {
		s.gen = 1
	}
	s.used = true
	s.value = value
	t.count++
	return makeHandle(s.gen, index)
}

func (t *Table[T]) lookup(h Handle) (*slot[T], bool) {
	if h <= 0 {
		return nil, false
	}
	index := h.index()
	if int(index) >= len(t.slots) {
		return nil, false
	}
	s := &t.slots[index]
	if !s.used || s.gen != h.generation() {
		return nil, false
	}
	return s, true
}

// Get returns the object behind h.
func (t *Table[T]) Get(h Handle) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.lookup(h)
	if !ok {
		var zero T
		return zero, ErrInvalidHandle
	}
	return s.value, nil
}

// Remove releases h and returns the object it referred to.
func (t *Table[T]) Remove(h Handle) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	s, ok := t.lookup(h)
	if !ok {
		return zero, ErrInvalidHandle
	}
	value := s.value
	s.value = zero
	s.used = false
	t.free = append(t.free, h.index())
	t.count--
	return value, nil
}

// Len returns the number of live objects.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Range calls fn for every live object until fn returns false. The table
// is not locked while fn runs, so fn may call back into it.
func (t *Table[T]) Range(fn func(Handle, T) bool) {
	type entry struct {
		h Handle
		v T
	}
	t.mu.Lock()
	entries := make([]entry, 0, t.count)
	for i := range t.slots {
		s := &t.slots[i]
		if s.used {
			entries = append(entries, entry{makeHandle(s.gen, uint32(i)), s.value})
		}
	}
	t.mu.Unlock()

	for _, e := range entries {
		if !fn(e.h, e.v) {
			return
		}
	}
}
