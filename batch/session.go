package batch

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tomyedwab/sqlbatch/engine"
)

// ErrSessionClosed is returned by Run after Close.
var ErrSessionClosed = errors.New("batch: session is closed")

// Options configures a Session.
type Options struct {
	InitialBufferSize int          // Defaults to DefaultInitialBufferSize
	MaxOutputBytes    int          // 0 means unlimited
	LegacyErrorFrames bool         // Write `"error",0,1,"--"` instead of the engine's code and message
	Logger            *slog.Logger // Optional, defaults to slog.Default()
}

// Session runs batches against one connection. It owns the output buffer
// and the decoder's scratch space; the bytes returned by Run remain valid
// until the next Run or Close.
//
// A Session is not safe for concurrent use. Callers sharing a connection
// must serialize their batches.
type Session struct {
	id     string
	conn   engine.Conn
	opts   Options
	logger *slog.Logger

	out    *Buffer
	dec    Decoder
	closed bool
}

// NewSession returns a session bound to conn. The session does not take
// ownership of conn.
func NewSession(conn engine.Conn, opts Options) *Session {
	id := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:     id,
		conn:   conn,
		opts:   opts,
		logger: logger.With("session", id),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Run decodes and executes input and returns the encoded results. Decode
// errors and ErrOutputTooLarge abort the batch; engine errors are reported
// in the failing statement's frame and the batch continues.
func (s *Session) Run(input []byte) ([]byte, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.out == nil {
		s.out = NewBuffer(s.opts.InitialBufferSize, s.opts.MaxOutputBytes)
	} else {
		s.out.Reset()
	}

	if err := s.dec.Reset(input); err != nil {
		s.logger.Warn("Rejected batch", "error", err)
		return nil, err
	}

	w := FrameWriter{buf: s.out, legacyErrors: s.opts.LegacyErrorFrames}
	if err := w.Begin(); err != nil {
		return nil, err
	}
	for {
		st, err := s.dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.logger.Warn("Rejected batch", "error", err)
			return nil, err
		}
		if err := s.execute(&w, st); err != nil {
			return nil, fmt.Errorf("statement %d: %w", st.Index, err)
		}
	}
	if err := w.End(); err != nil {
		return nil, err
	}

	s.logger.Debug("Ran batch", "db", s.dec.DatabaseID(), "statements", s.dec.Count(), "bytes", s.out.Len())
	return s.out.Bytes(), nil
}

// Close releases the session's buffers. It does not close the connection.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.out != nil {
		s.out.Release()
		s.out = nil
	}
	s.dec = Decoder{}
	return nil
}
