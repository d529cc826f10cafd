// Package host owns the databases and batch sessions that clients reach
// through opaque handles, whether from a wasm guest, the HTTP API or the
// in-process database/sql driver.
package host

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver for Inspect

	"github.com/tomyedwab/sqlbatch/batch"
	"github.com/tomyedwab/sqlbatch/engine"
	"github.com/tomyedwab/sqlbatch/engine/sqlite3"
	"github.com/tomyedwab/sqlbatch/handles"
	"github.com/tomyedwab/sqlbatch/sqlproxy/types"
)

// ErrUnsupportedAPIVersion is returned when a client was built against a
// different host interface.
var ErrUnsupportedAPIVersion = errors.New("sqlbatch: unsupported API version")

// Config configures an SQLHost.
type Config struct {
	Opener         engine.Opener // Defaults to the go-sqlite3 engine
	SessionOptions batch.Options // Applied to every new session
	Logger         *slog.Logger  // Optional, defaults to slog.Default()
}

type database struct {
	name  string
	flags int
	conn  engine.Conn

	// mu serializes batches on conn.
	mu       sync.Mutex
	sessions map[handles.Handle]struct{}
	inspect  *sqlx.DB
}

type session struct {
	db      handles.Handle
	dbRef   *database
	session *batch.Session
}

// SQLHost manages open databases and their sessions.
type SQLHost struct {
	cfg      Config
	logger   *slog.Logger
	dbs      *handles.Table[*database]
	sessions *handles.Table[*session]

	// mu guards the per-database session sets.
	mu sync.Mutex
}

// NewSQLHost creates a new SQLHost instance.
func NewSQLHost(cfg Config) *SQLHost {
	if cfg.Opener == nil {
		cfg.Opener = sqlite3.Opener
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionOptions.Logger == nil {
		cfg.SessionOptions.Logger = logger
	}
	return &SQLHost{
		cfg:      cfg,
		logger:   logger,
		dbs:      handles.New[*database](),
		sessions: handles.New[*session](),
	}
}

// CheckAPIVersion reports whether a client built against version can talk
// to this host.
func CheckAPIVersion(version int) error {
	if version != types.APIVersion {
		return fmt.Errorf("%w: got %d, host speaks %d", ErrUnsupportedAPIVersion, version, types.APIVersion)
	}
	return nil
}

// OpenDB opens filename with engine.Open* flags and returns its handle.
func (h *SQLHost) OpenDB(version int, filename string, flags int) (handles.Handle, error) {
	if err := CheckAPIVersion(version); err != nil {
		return 0, err
	}
	conn, err := h.cfg.Opener(filename, flags)
	if err != nil {
		h.logger.Error("Failed to open database", "name", filename, "error", err)
		return 0, err
	}
	db := &database{
		name:     filename,
		flags:    flags,
		conn:     conn,
		sessions: make(map[handles.Handle]struct{}),
	}
	handle := h.dbs.Insert(db)
	h.logger.Info("Opened database", "name", filename, "handle", int64(handle))
	return handle, nil
}

// CloseDB disposes every session of the database and closes it.
func (h *SQLHost) CloseDB(dbHandle handles.Handle) error {
	db, err := h.dbs.Remove(dbHandle)
	if err != nil {
		return err
	}

	h.mu.Lock()
	owned := make([]handles.Handle, 0, len(db.sessions))
	for s := range db.sessions {
		owned = append(owned, s)
	}
	h.mu.Unlock()
	for _, s := range owned {
		h.DisposeSession(s)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.inspect != nil {
		db.inspect.Close()
		db.inspect = nil
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("sqlbatch: close %s: %w", db.name, err)
	}
	h.logger.Info("Closed database", "name", db.name, "handle", int64(dbHandle))
	return nil
}

// NewSession creates a batch session on the database.
func (h *SQLHost) NewSession(dbHandle handles.Handle) (handles.Handle, error) {
	db, err := h.dbs.Get(dbHandle)
	if err != nil {
		return 0, err
	}
	s := &session{
		db:      dbHandle,
		dbRef:   db,
		session: batch.NewSession(db.conn, h.cfg.SessionOptions),
	}
	handle := h.sessions.Insert(s)

	h.mu.Lock()
	db.sessions[handle] = struct{}{}
	h.mu.Unlock()
	return handle, nil
}

// Run executes a batch on the session. The returned bytes belong to the
// session and stay valid until its next Run or its disposal.
func (h *SQLHost) Run(sessionHandle handles.Handle, input []byte) ([]byte, error) {
	s, err := h.sessions.Get(sessionHandle)
	if err != nil {
		return nil, err
	}
	s.dbRef.mu.Lock()
	defer s.dbRef.mu.Unlock()
	return s.session.Run(input)
}

// DisposeSession releases the session and its buffers.
func (h *SQLHost) DisposeSession(sessionHandle handles.Handle) error {
	s, err := h.sessions.Remove(sessionHandle)
	if err != nil {
		return err
	}
	h.mu.Lock()
	delete(s.dbRef.sessions, sessionHandle)
	h.mu.Unlock()

	s.dbRef.mu.Lock()
	defer s.dbRef.mu.Unlock()
	return s.session.Close()
}

// SessionID returns the unique identifier the session logs under.
func (h *SQLHost) SessionID(sessionHandle handles.Handle) (string, error) {
	s, err := h.sessions.Get(sessionHandle)
	if err != nil {
		return "", err
	}
	return s.session.ID(), nil
}

// Inspect returns a read-only sqlx handle on the database's file for queries
// outside the batch path. The handle is owned by the host and closed with
// the database.
func (h *SQLHost) Inspect(dbHandle handles.Handle) (*sqlx.DB, error) {
	db, err := h.dbs.Get(dbHandle)
	if err != nil {
		return nil, err
	}
	if db.name == "" || db.name == ":memory:" {
		return nil, fmt.Errorf("sqlbatch: in-memory database cannot be inspected")
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.inspect == nil {
		inspect, err := sqlx.Open("sqlite3", sqlite3.DSN(db.name, engine.OpenReadOnly))
		if err != nil {
			return nil, fmt.Errorf("sqlbatch: inspect %s: %w", db.name, err)
		}
		db.inspect = inspect
	}
	return db.inspect, nil
}

// Databases lists the open databases ordered by name.
func (h *SQLHost) Databases() []types.DatabaseStatus {
	var out []types.DatabaseStatus
	h.dbs.Range(func(handle handles.Handle, db *database) bool {
		h.mu.Lock()
		n := len(db.sessions)
		h.mu.Unlock()
		out = append(out, types.DatabaseStatus{Name: db.name, Handle: int64(handle), Sessions: n})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close closes every database.
func (h *SQLHost) Close() error {
	var errs []error
	h.dbs.Range(func(handle handles.Handle, _ *database) bool {
		if err := h.CloseDB(handle); err != nil && !errors.Is(err, handles.ErrInvalidHandle) {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}
