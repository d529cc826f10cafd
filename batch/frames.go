package batch

import (
	"fmt"

	"github.com/tomyedwab/sqlbatch/engine"
)

// Sentinels tagging each frame of the output.
const (
	SentinelRows    = "okrows"
	SentinelEndRows = "endrows"
	SentinelChanges = "ch2"
	SentinelOK      = "ok"
	SentinelError   = "error"
	SentinelEnd     = "bogus"
)

// legacyErrorFrame is the fixed error frame written when true engine errors
// are not reported.
const legacyErrorFrame = `"error",0,1,"--",`

// FrameKind identifies the shape of one statement's outcome.
type FrameKind int

const (
	FrameRows FrameKind = iota
	FrameChanges
	FrameOK
	FrameError
)

func (k FrameKind) String() string {
	switch k {
	case FrameRows:
		return SentinelRows
	case FrameChanges:
		return SentinelChanges
	case FrameOK:
		return SentinelOK
	case FrameError:
		return SentinelError
	}
	return fmt.Sprintf("FrameKind(%d)", int(k))
}

// FrameWriter renders result frames into a Buffer. Every frame, and every
// value inside a row-set frame, is followed by a ',' so that the closing
// sentinel can be appended unconditionally.
type FrameWriter struct {
	buf          *Buffer
	legacyErrors bool
}

// NewFrameWriter returns a writer appending to buf. With legacyErrors set,
// Error writes the fixed `"error",0,1,"--"` frame.
func NewFrameWriter(buf *Buffer, legacyErrors bool) *FrameWriter {
	return &FrameWriter{buf: buf, legacyErrors: legacyErrors}
}

func (w *FrameWriter) sentinel(s string) error {
	if err := w.buf.EnsureCapacity(len(s) + 3); err != nil {
		return err
	}
	w.buf.data = append(w.buf.data, '"')
	w.buf.data = append(w.buf.data, s...)
	w.buf.data = append(w.buf.data, '"', ',')
	return nil
}

func (w *FrameWriter) number(v int64) error {
	if err := w.buf.AppendInt(v); err != nil {
		return err
	}
	return w.buf.AppendByte(',')
}

// Begin opens the output array.
func (w *FrameWriter) Begin() error {
	return w.buf.AppendByte('[')
}

// End writes the end-of-batch sentinel and closes the array.
func (w *FrameWriter) End() error {
	return w.buf.AppendString(`"` + SentinelEnd + `"]`)
}

func (w *FrameWriter) BeginRows() error {
	return w.sentinel(SentinelRows)
}

// BeginRow starts a row of the given width.
func (w *FrameWriter) BeginRow(columns int) error {
	return w.number(int64(columns))
}

// Column writes one name/value pair. text is the engine's textual rendering
// of the value and is ignored for engine.Null.
func (w *FrameWriter) Column(name string, typ engine.ColumnType, text []byte) error {
	if err := encodeText(w.buf, name); err != nil {
		return err
	}
	if err := w.buf.AppendByte(','); err != nil {
		return err
	}
	var err error
	switch typ {
	case engine.Null:
		err = w.buf.AppendString("null")
	case engine.Integer, engine.Float:
		if len(text) == 0 {
			err = w.buf.AppendByte('0')
		} else {
			err = w.buf.Append(text)
		}
	default:
		err = encodeText(w.buf, text)
	}
	if err != nil {
		return err
	}
	return w.buf.AppendByte(',')
}

func (w *FrameWriter) EndRows() error {
	return w.sentinel(SentinelEndRows)
}

// Changes writes a mutation frame.
func (w *FrameWriter) Changes(rowsAffected, insertID int64) error {
	if err := w.sentinel(SentinelChanges); err != nil {
		return err
	}
	if err := w.number(rowsAffected); err != nil {
		return err
	}
	return w.number(insertID)
}

func (w *FrameWriter) OK() error {
	return w.sentinel(SentinelOK)
}

// Error writes an error frame carrying the engine code and message.
func (w *FrameWriter) Error(code int, message string) error {
	if w.legacyErrors {
		return w.buf.AppendString(legacyErrorFrame)
	}
	if err := w.sentinel(SentinelError); err != nil {
		return err
	}
	if err := w.number(0); err != nil {
		return err
	}
	if err := w.number(int64(code)); err != nil {
		return err
	}
	if err := encodeText(w.buf, message); err != nil {
		return err
	}
	return w.buf.AppendByte(',')
}
