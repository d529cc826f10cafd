//go:build darwin || linux

// Package native implements engine.Conn by calling a system libsqlite3
// directly through purego, without cgo.
package native

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/tomyedwab/sqlbatch/engine"
)

// LibraryEnv names the environment variable that overrides the library path.
const LibraryEnv = "SQLBATCH_SQLITE_LIB"

const sqliteTransient = ^uintptr(0)

var (
	libOnce   sync.Once
	libErr    error
	libPath   string
	libHandle uintptr
)

var (
	sqlite3_open_v2           func(filename string, ppDb *uintptr, flags int32, zVfs uintptr) int32
	sqlite3_close_v2          func(db uintptr) int32
	sqlite3_errmsg            func(db uintptr) string
	sqlite3_errstr            func(code int32) string
	sqlite3_prepare_v2        func(db uintptr, zSql *byte, nByte int32, ppStmt *uintptr, pzTail uintptr) int32
	sqlite3_bind_null         func(stmt uintptr, pos int32) int32
	sqlite3_bind_int64        func(stmt uintptr, pos int32, v int64) int32
	sqlite3_bind_double       func(stmt uintptr, pos int32, v float64) int32
	sqlite3_bind_text         func(stmt uintptr, pos int32, text *byte, n int32, destructor uintptr) int32
	sqlite3_step              func(stmt uintptr) int32
	sqlite3_column_count      func(stmt uintptr) int32
	sqlite3_column_name       func(stmt uintptr, col int32) string
	sqlite3_column_type       func(stmt uintptr, col int32) int32
	sqlite3_column_text       func(stmt uintptr, col int32) unsafe.Pointer
	sqlite3_column_bytes      func(stmt uintptr, col int32) int32
	sqlite3_finalize          func(stmt uintptr) int32
	sqlite3_total_changes     func(db uintptr) int32
	sqlite3_last_insert_rowid func(db uintptr) int64
)

func candidatePaths() []string {
	if p := os.Getenv(LibraryEnv); p != "" {
		return []string{p}
	}
	switch runtime.GOOS {
	case "darwin":
		return []string{"/usr/lib/libsqlite3.dylib", "libsqlite3.dylib"}
	default:
		return []string{"libsqlite3.so.0", "libsqlite3.so"}
	}
}

// Load loads libsqlite3 from path, or from LibraryEnv and the platform's
// usual names when path is empty. Only the first call has an effect.
func Load(path string) error {
	libOnce.Do(func() {
		paths := candidatePaths()
		if path != "" {
			paths = []string{path}
		}
		var errs []error
		for _, p := range paths {
			handle, err := purego.Dlopen(p, purego.RTLD_NOW|purego.RTLD_GLOBAL)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if err := registerFuncs(handle); err != nil {
				purego.Dlclose(handle)
				errs = append(errs, err)
				continue
			}
			libPath, libHandle = p, handle
			return
		}
		libErr = fmt.Errorf("native: libsqlite3 not found: %w", errors.Join(errs...))
	})
	return libErr
}

// LibraryPath returns the path of the loaded library.
func LibraryPath() string {
	return libPath
}

func registerFuncs(handle uintptr) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("native: %v", r)
		}
	}()
	purego.RegisterLibFunc(&sqlite3_open_v2, handle, "sqlite3_open_v2")
	purego.RegisterLibFunc(&sqlite3_close_v2, handle, "sqlite3_close_v2")
	purego.RegisterLibFunc(&sqlite3_errmsg, handle, "sqlite3_errmsg")
	purego.RegisterLibFunc(&sqlite3_errstr, handle, "sqlite3_errstr")
	purego.RegisterLibFunc(&sqlite3_prepare_v2, handle, "sqlite3_prepare_v2")
	purego.RegisterLibFunc(&sqlite3_bind_null, handle, "sqlite3_bind_null")
	purego.RegisterLibFunc(&sqlite3_bind_int64, handle, "sqlite3_bind_int64")
	purego.RegisterLibFunc(&sqlite3_bind_double, handle, "sqlite3_bind_double")
	purego.RegisterLibFunc(&sqlite3_bind_text, handle, "sqlite3_bind_text")
	purego.RegisterLibFunc(&sqlite3_step, handle, "sqlite3_step")
	purego.RegisterLibFunc(&sqlite3_column_count, handle, "sqlite3_column_count")
	purego.RegisterLibFunc(&sqlite3_column_name, handle, "sqlite3_column_name")
	purego.RegisterLibFunc(&sqlite3_column_type, handle, "sqlite3_column_type")
	purego.RegisterLibFunc(&sqlite3_column_text, handle, "sqlite3_column_text")
	purego.RegisterLibFunc(&sqlite3_column_bytes, handle, "sqlite3_column_bytes")
	purego.RegisterLibFunc(&sqlite3_finalize, handle, "sqlite3_finalize")
	purego.RegisterLibFunc(&sqlite3_total_changes, handle, "sqlite3_total_changes")
	purego.RegisterLibFunc(&sqlite3_last_insert_rowid, handle, "sqlite3_last_insert_rowid")
	return nil
}

// empty backs zero-length text so that SQLite never sees a NULL pointer,
// which it would bind as SQL NULL.
var empty = []byte{0}

func bytesPtr(b []byte) *byte {
	if len(b) == 0 {
		return &empty[0]
	}
	return &b[0]
}

// Conn is a sqlite3* handle.
type Conn struct {
	db uintptr
}

// Open opens filename with engine.Open* flags. Zero flags mean read-write
// with create.
func Open(filename string, flags int) (*Conn, error) {
	if err := Load(""); err != nil {
		return nil, err
	}
	if flags == 0 {
		flags = engine.OpenReadWrite | engine.OpenCreate
	}
	var db uintptr
	rc := sqlite3_open_v2(filename, &db, int32(flags), 0)
	if rc != engine.OK {
		err := &engine.Error{Code: int(rc), Message: sqlite3_errstr(rc)}
		if db != 0 {
			err.Message = sqlite3_errmsg(db)
			sqlite3_close_v2(db)
		}
		return nil, fmt.Errorf("native: open %s: %w", filename, err)
	}
	return &Conn{db: db}, nil
}

// Opener adapts Open to engine.Opener.
func Opener(filename string, flags int) (engine.Conn, error) {
	conn, err := Open(filename, flags)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Conn) lastError(rc int32) error {
	return &engine.Error{Code: int(rc), Message: sqlite3_errmsg(c.db)}
}

func (c *Conn) Prepare(sql []byte) (engine.Stmt, error) {
	var stmt uintptr
	rc := sqlite3_prepare_v2(c.db, bytesPtr(sql), int32(len(sql)), &stmt, 0)
	runtime.KeepAlive(sql)
	if rc != engine.OK {
		return nil, c.lastError(rc)
	}
	return &Stmt{conn: c, h: stmt}, nil
}

func (c *Conn) TotalChanges() (int64, error) {
	return int64(sqlite3_total_changes(c.db)), nil
}

func (c *Conn) LastInsertRowID() (int64, error) {
	return sqlite3_last_insert_rowid(c.db), nil
}

func (c *Conn) Close() error {
	if c.db == 0 {
		return nil
	}
	rc := sqlite3_close_v2(c.db)
	if rc != engine.OK {
		return c.lastError(rc)
	}
	c.db = 0
	return nil
}

// Stmt is a sqlite3_stmt* handle. A zero handle stands for SQL text that
// held no statement; it steps straight to done.
type Stmt struct {
	conn *Conn
	h    uintptr
}

func (s *Stmt) check(rc int32) error {
	if rc != engine.OK {
		return s.conn.lastError(rc)
	}
	return nil
}

func (s *Stmt) rangeError() error {
	return &engine.Error{Code: engine.Range, Message: "bind or column index out of range"}
}

func (s *Stmt) BindNull(pos int) error {
	if s.h == 0 {
		return s.rangeError()
	}
	return s.check(sqlite3_bind_null(s.h, int32(pos)))
}

func (s *Stmt) BindInt64(pos int, v int64) error {
	if s.h == 0 {
		return s.rangeError()
	}
	return s.check(sqlite3_bind_int64(s.h, int32(pos), v))
}

func (s *Stmt) BindDouble(pos int, v float64) error {
	if s.h == 0 {
		return s.rangeError()
	}
	return s.check(sqlite3_bind_double(s.h, int32(pos), v))
}

func (s *Stmt) BindText(pos int, v []byte) error {
	if s.h == 0 {
		return s.rangeError()
	}
	rc := sqlite3_bind_text(s.h, int32(pos), bytesPtr(v), int32(len(v)), sqliteTransient)
	runtime.KeepAlive(v)
	return s.check(rc)
}

func (s *Stmt) Step() (engine.StepResult, error) {
	if s.h == 0 {
		return engine.StepDone, nil
	}
	switch rc := sqlite3_step(s.h); rc {
	case engine.Row:
		return engine.StepRow, nil
	case engine.Done:
		return engine.StepDone, nil
	default:
		return 0, s.conn.lastError(rc)
	}
}

func (s *Stmt) ColumnCount() int {
	if s.h == 0 {
		return 0
	}
	return int(sqlite3_column_count(s.h))
}

func (s *Stmt) ColumnName(i int) string {
	return sqlite3_column_name(s.h, int32(i))
}

func (s *Stmt) ColumnType(i int) engine.ColumnType {
	return engine.ColumnType(sqlite3_column_type(s.h, int32(i)))
}

func (s *Stmt) ColumnText(i int) []byte {
	p := sqlite3_column_text(s.h, int32(i))
	if p == nil {
		return nil
	}
	n := sqlite3_column_bytes(s.h, int32(i))
	out := make([]byte, n)
	copy(out, unsafe.Slice((*byte)(p), n))
	return out
}

func (s *Stmt) Finalize() error {
	if s.h == 0 {
		return nil
	}
	rc := sqlite3_finalize(s.h)
	s.h = 0
	return s.check(rc)
}
