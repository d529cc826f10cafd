package batch

import (
	"errors"
	"strconv"
)

const (
	// DefaultInitialBufferSize is the capacity a Session starts its output
	// buffer with.
	DefaultInitialBufferSize = 1000

	// bufferSlack is extra headroom added on every growth.
	bufferSlack = 80
)

// ErrOutputTooLarge is returned when a batch's output would exceed
// Options.MaxOutputBytes. It aborts the whole batch.
var ErrOutputTooLarge = errors.New("batch: output exceeds configured maximum size")

// Buffer is an append-only byte buffer with amortized doubling growth.
//
// The only way to move the write cursor backwards is rewind, which the
// executor uses to drop a row-set frame that failed halfway through.
type Buffer struct {
	data  []byte
	limit int
	err   error
}

// NewBuffer returns a buffer with the given initial capacity. A positive
// limit caps the total number of bytes the buffer may hold.
func NewBuffer(initial, limit int) *Buffer {
	if initial <= 0 {
		initial = DefaultInitialBufferSize
	}
	if limit > 0 && initial > limit {
		initial = limit
	}
	return &Buffer{data: make([]byte, 0, initial), limit: limit}
}

// EnsureCapacity guarantees that n more bytes can be appended without
// reallocating. Growth goes to twice the current length plus n plus a fixed
// slack.
func (b *Buffer) EnsureCapacity(n int) error {
	if b.err != nil {
		return b.err
	}
	need := len(b.data) + n
	if b.limit > 0 && need > b.limit {
		b.err = ErrOutputTooLarge
		return b.err
	}
	if need <= cap(b.data) {
		return nil
	}
	size := 2*len(b.data) + n + bufferSlack
	if b.limit > 0 && size > b.limit {
		size = b.limit
	}
	grown := make([]byte, len(b.data), size)
	copy(grown, b.data)
	b.data = grown
	return nil
}

// Append writes p at the cursor.
func (b *Buffer) Append(p []byte) error {
	if err := b.EnsureCapacity(len(p)); err != nil {
		return err
	}
	b.data = append(b.data, p...)
	return nil
}

func (b *Buffer) AppendString(s string) error {
	if err := b.EnsureCapacity(len(s)); err != nil {
		return err
	}
	b.data = append(b.data, s...)
	return nil
}

func (b *Buffer) AppendByte(c byte) error {
	if err := b.EnsureCapacity(1); err != nil {
		return err
	}
	b.data = append(b.data, c)
	return nil
}

// AppendInt writes the decimal form of v.
func (b *Buffer) AppendInt(v int64) error {
	var digits [20]byte
	return b.Append(strconv.AppendInt(digits[:0], v, 10))
}

// Err returns the first error hit by an append, if any. Once set, every
// further append fails with the same error.
func (b *Buffer) Err() error {
	return b.err
}

func (b *Buffer) Len() int {
	return len(b.data)
}

func (b *Buffer) Cap() int {
	return cap(b.data)
}

// Bytes returns the written bytes. The slice aliases the buffer and is only
// valid until the next Reset or Release.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Reset moves the cursor to the start and clears any sticky error. Capacity
// is kept for the next batch.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.err = nil
}

// Release drops the storage.
func (b *Buffer) Release() {
	b.data = nil
	b.err = nil
}

func (b *Buffer) mark() int {
	return len(b.data)
}

func (b *Buffer) rewind(mark int) {
	if mark >= 0 && mark <= len(b.data) {
		b.data = b.data[:mark]
	}
}
