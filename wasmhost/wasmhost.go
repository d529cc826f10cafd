// Package wasmhost exposes an SQLHost to WebAssembly guests as the
// "sqlbatch" host module.
//
// Databases and sessions cross the boundary as i64 handles. Every valid
// handle is at least 1<<32, so functions returning a handle use negative
// values for errors. A batch runs in two steps: run executes the batch and
// returns the output length (or the negated length of an error message),
// then read copies that pending output into guest memory.
package wasmhost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/tomyedwab/sqlbatch/engine"
	"github.com/tomyedwab/sqlbatch/handles"
	"github.com/tomyedwab/sqlbatch/sqlproxy/host"
)

// ModuleName is the import module guests link against.
const ModuleName = "sqlbatch"

// Status codes returned by read.
const (
	ReadNothingPending = -1
	ReadBufferTooSmall = -2
	ReadOutOfRange     = -3
)

// Bridge implements the host module functions on top of an SQLHost.
type Bridge struct {
	host   *host.SQLHost
	logger *slog.Logger

	mu      sync.Mutex
	pending map[handles.Handle][]byte
}

func NewBridge(h *host.SQLHost, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		host:    h,
		logger:  logger,
		pending: make(map[handles.Handle][]byte),
	}
}

// Instantiate registers the host module in r.
func (b *Bridge) Instantiate(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	return r.NewHostModuleBuilder(ModuleName).
		NewFunctionBuilder().WithFunc(b.apiVersionCheck).Export("api_version_check").
		NewFunctionBuilder().WithFunc(b.dbOpen).Export("db_open").
		NewFunctionBuilder().WithFunc(b.dbClose).Export("db_close").
		NewFunctionBuilder().WithFunc(b.sessionNew).Export("session_new").
		NewFunctionBuilder().WithFunc(b.sessionDispose).Export("session_dispose").
		NewFunctionBuilder().WithFunc(b.run).Export("run").
		NewFunctionBuilder().WithFunc(b.read).Export("read").
		Instantiate(ctx)
}

// GuestConfig describes how a guest program is started.
type GuestConfig struct {
	Args   []string
	Env    map[string]string
	Stdout io.Writer
	Stderr io.Writer
}

// RunGuest instantiates WASI, the host module and the guest, and runs the
// guest's _start function to completion.
func (b *Bridge) RunGuest(ctx context.Context, wasm []byte, gc GuestConfig) error {
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	if _, err := b.Instantiate(ctx, r); err != nil {
		return fmt.Errorf("wasmhost: instantiate host module: %w", err)
	}

	cfg := wazero.NewModuleConfig().
		WithArgs(gc.Args...).
		WithSysWalltime().
		WithSysNanotime()
	if gc.Stdout != nil {
		cfg = cfg.WithStdout(gc.Stdout)
	}
	if gc.Stderr != nil {
		cfg = cfg.WithStderr(gc.Stderr)
	}
	for k, v := range gc.Env {
		cfg = cfg.WithEnv(k, v)
	}

	b.logger.Info("Starting guest", "args", gc.Args)
	_, err := r.InstantiateWithConfig(ctx, wasm, cfg)
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
		return nil
	}
	if err != nil {
		return fmt.Errorf("wasmhost: run guest: %w", err)
	}
	return nil
}

func readBytes(m api.Module, offset, byteCount uint32) ([]byte, bool) {
	if byteCount == 0 {
		return nil, true
	}
	return m.Memory().Read(offset, byteCount)
}

// errorCode maps err to a negative i64 result.
func errorCode(err error) int64 {
	if errors.Is(err, handles.ErrInvalidHandle) || errors.Is(err, host.ErrUnsupportedAPIVersion) {
		return -engine.Misuse
	}
	return -int64(engine.CodeOf(err))
}

func (b *Bridge) apiVersionCheck(_ context.Context, version uint32) int32 {
	if err := host.CheckAPIVersion(int(version)); err != nil {
		b.logger.Warn("Guest API version mismatch", "error", err)
		return -engine.Misuse
	}
	return 0
}

func (b *Bridge) dbOpen(_ context.Context, m api.Module, version uint32, namePtr, nameLen uint32, flags uint32) int64 {
	name, ok := readBytes(m, namePtr, nameLen)
	if !ok {
		return -engine.Misuse
	}
	h, err := b.host.OpenDB(int(version), string(name), int(flags))
	if err != nil {
		return errorCode(err)
	}
	return int64(h)
}

func (b *Bridge) dbClose(_ context.Context, db int64) int32 {
	if err := b.host.CloseDB(handles.Handle(db)); err != nil {
		b.logger.Warn("Failed to close database", "handle", db, "error", err)
		return int32(errorCode(err))
	}
	// closing disposed the database's sessions
	b.mu.Lock()
	for h := range b.pending {
		if _, err := b.host.SessionID(h); err != nil {
			delete(b.pending, h)
		}
	}
	b.mu.Unlock()
	return 0
}

func (b *Bridge) sessionNew(_ context.Context, db int64) int64 {
	h, err := b.host.NewSession(handles.Handle(db))
	if err != nil {
		return errorCode(err)
	}
	return int64(h)
}

// sessionDispose invalidates the handle before dropping its pending data, so
// a concurrent setPending either lands first or sees the handle gone.
func (b *Bridge) sessionDispose(_ context.Context, session int64) {
	if err := b.host.DisposeSession(handles.Handle(session)); err != nil {
		b.logger.Warn("Failed to dispose session", "handle", session, "error", err)
	}
	b.mu.Lock()
	delete(b.pending, handles.Handle(session))
	b.mu.Unlock()
}

// setPending keeps data for the next read of session. Nothing is kept for
// handles that do not name a live session, since no dispose would ever
// release it.
func (b *Bridge) setPending(session handles.Handle, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.host.SessionID(session); err != nil {
		return
	}
	b.pending[session] = data
}

// run executes the batch at inPtr and keeps its output pending for read.
func (b *Bridge) run(_ context.Context, m api.Module, session int64, inPtr, inLen uint32) int32 {
	h := handles.Handle(session)
	input, ok := readBytes(m, inPtr, inLen)
	if !ok {
		return b.runError(h, fmt.Errorf("wasmhost: batch at %d+%d is outside guest memory", inPtr, inLen))
	}
	out, err := b.host.Run(h, input)
	if err != nil {
		return b.runError(h, err)
	}
	if len(out) > math.MaxInt32 {
		return b.runError(h, fmt.Errorf("wasmhost: output of %d bytes is too large", len(out)))
	}
	b.setPending(h, append([]byte(nil), out...))
	return int32(len(out))
}

func (b *Bridge) runError(h handles.Handle, err error) int32 {
	msg := err.Error()
	if msg == "" {
		msg = "unknown error"
	}
	if len(msg) > math.MaxInt32 {
		msg = msg[:math.MaxInt32]
	}
	b.setPending(h, []byte(msg))
	return -int32(len(msg))
}

// read copies the pending output of session into guest memory and returns
// its length. Pending data is dropped once read.
func (b *Bridge) read(_ context.Context, m api.Module, session int64, destPtr, destCap uint32) int32 {
	h := handles.Handle(session)
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.pending[h]
	if !ok {
		return ReadNothingPending
	}
	if uint64(len(data)) > uint64(destCap) {
		return ReadBufferTooSmall
	}
	if len(data) > 0 && !m.Memory().Write(destPtr, data) {
		return ReadOutOfRange
	}
	delete(b.pending, h)
	return int32(len(data))
}
