package batch

import (
	"errors"
	"testing"
)

func TestNewBufferDefaults(t *testing.T) {
	b := NewBuffer(0, 0)
	if b.Cap() != DefaultInitialBufferSize {
		t.Errorf("Cap = %d, want %d", b.Cap(), DefaultInitialBufferSize)
	}
	if b.Len() != 0 {
		t.Errorf("Len = %d, want 0", b.Len())
	}
}

func TestBufferGrowth(t *testing.T) {
	b := NewBuffer(10, 0)
	if err := b.AppendString("0123456789"); err != nil {
		t.Fatalf("AppendString failed: %v", err)
	}
	if b.Cap() != 10 {
		t.Fatalf("Cap = %d, want 10 before growth", b.Cap())
	}
	if err := b.EnsureCapacity(5); err != nil {
		t.Fatalf("EnsureCapacity failed: %v", err)
	}
	if want := 2*10 + 5 + bufferSlack; b.Cap() != want {
		t.Errorf("Cap = %d, want %d", b.Cap(), want)
	}
	if string(b.Bytes()) != "0123456789" {
		t.Errorf("contents changed by growth: %q", b.Bytes())
	}

	// no growth while there is room
	before := b.Cap()
	if err := b.Append([]byte("abc")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if b.Cap() != before {
		t.Errorf("Cap changed from %d to %d", before, b.Cap())
	}
}

func TestBufferLimit(t *testing.T) {
	b := NewBuffer(4, 10)
	if err := b.AppendString("12345678"); err != nil {
		t.Fatalf("AppendString failed: %v", err)
	}
	if b.Cap() > 10 {
		t.Errorf("Cap = %d exceeds limit", b.Cap())
	}
	if err := b.AppendInt(99); err != nil {
		t.Fatalf("AppendInt within limit failed: %v", err)
	}
	if err := b.AppendByte('x'); !errors.Is(err, ErrOutputTooLarge) {
		t.Fatalf("expected ErrOutputTooLarge, got %v", err)
	}
	// the error is sticky until Reset
	if err := b.Append(nil); !errors.Is(err, ErrOutputTooLarge) {
		t.Errorf("expected sticky ErrOutputTooLarge, got %v", err)
	}
	if !errors.Is(b.Err(), ErrOutputTooLarge) {
		t.Errorf("Err = %v", b.Err())
	}

	b.Reset()
	if b.Err() != nil || b.Len() != 0 {
		t.Errorf("Reset left Err=%v Len=%d", b.Err(), b.Len())
	}
	if err := b.AppendString("ok"); err != nil {
		t.Errorf("AppendString after Reset failed: %v", err)
	}
}

func TestBufferRewind(t *testing.T) {
	b := NewBuffer(0, 0)
	b.AppendString("[")
	mark := b.mark()
	b.AppendString(`"okrows",1,`)
	b.rewind(mark)
	b.AppendInt(-42)
	if got := string(b.Bytes()); got != "[-42" {
		t.Errorf("contents = %q, want %q", got, "[-42")
	}
	b.Release()
	if b.Cap() != 0 {
		t.Errorf("Cap after Release = %d", b.Cap())
	}
}
