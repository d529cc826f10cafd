//go:build wasip1

// Package guest binds a WASI program to the "sqlbatch" host module.
package guest

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/tomyedwab/sqlbatch/sqlproxy/types"
)

//go:wasmimport sqlbatch api_version_check
func api_version_check(version uint32) int32

//go:wasmimport sqlbatch db_open
func db_open(version uint32, namePtr, nameLen uint32, flags uint32) int64

//go:wasmimport sqlbatch db_close
func db_close(db int64) int32

//go:wasmimport sqlbatch session_new
func session_new(db int64) int64

//go:wasmimport sqlbatch session_dispose
func session_dispose(session int64)

//go:wasmimport sqlbatch run
func run(session int64, inPtr, inLen uint32) int32

//go:wasmimport sqlbatch read
func read(session int64, destPtr, destCap uint32) int32

// ErrAPIVersion is returned when the host speaks a different API version.
var ErrAPIVersion = errors.New("guest: host API version mismatch")

// ErrInvalidSession is returned by Run once the session has been disposed.
var ErrInvalidSession = errors.New("guest: invalid session handle")

// Mirrors wasmhost.ReadNothingPending.
const readNothingPending = -1

// CheckAPIVersion asks the host whether it speaks types.APIVersion.
func CheckAPIVersion() error {
	if api_version_check(types.APIVersion) != 0 {
		return ErrAPIVersion
	}
	return nil
}

// DB is a database opened on the host.
type DB struct {
	handle int64
}

// Open opens name on the host with engine.Open* flags.
func Open(name string, flags uint32) (*DB, error) {
	h := db_open(types.APIVersion, stringPtr(name), uint32(len(name)), flags)
	runtime.KeepAlive(name)
	if h < 0 {
		return nil, fmt.Errorf("guest: db_open %s failed with code %d", name, -h)
	}
	return &DB{handle: h}, nil
}

func (db *DB) Close() error {
	if rc := db_close(db.handle); rc != 0 {
		return fmt.Errorf("guest: db_close failed with code %d", -rc)
	}
	return nil
}

// NewSession creates a batch session on the database.
func (db *DB) NewSession() (*Session, error) {
	h := session_new(db.handle)
	if h < 0 {
		return nil, fmt.Errorf("guest: session_new failed with code %d", -h)
	}
	return &Session{handle: h}, nil
}

// Session runs batches on the host.
type Session struct {
	handle int64
	buf    []byte
}

// Run sends an encoded batch and returns the encoded results. The returned
// slice is reused by the next Run.
func (s *Session) Run(input []byte) ([]byte, error) {
	n := run(s.handle, bytesPtr(input), uint32(len(input)))
	runtime.KeepAlive(input)

	size := n
	if n < 0 {
		size = -n
	}
	if cap(s.buf) < int(size) {
		s.buf = make([]byte, size)
	}
	s.buf = s.buf[:size]
	got := read(s.handle, bytesPtr(s.buf), uint32(len(s.buf)))
	if n < 0 && got == readNothingPending {
		return nil, ErrInvalidSession
	}
	if got != size {
		return nil, fmt.Errorf("guest: read returned %d, expected %d", got, size)
	}
	if n < 0 {
		return nil, fmt.Errorf("guest: host run failed: %s", string(s.buf))
	}
	return s.buf, nil
}

func (s *Session) Dispose() {
	session_dispose(s.handle)
	s.buf = nil
}
