package wasmhost

import (
	"context"
	"path"
	"strings"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/tomyedwab/sqlbatch/engine"
	"github.com/tomyedwab/sqlbatch/handles"
	"github.com/tomyedwab/sqlbatch/sqlproxy/host"
	"github.com/tomyedwab/sqlbatch/sqlproxy/types"
)

// memoryOnlyWasm is a module that exports one page of memory and nothing
// else; it stands in for a guest when calling the host functions directly.
var memoryOnlyWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic, version
	0x05, 0x03, 0x01, 0x00, 0x01, // memory section: one memory, min 1 page
	0x07, 0x0a, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00, // export "memory"
}

func setupTestBridge(t *testing.T) (*Bridge, api.Module, wazero.Runtime) {
	ctx := context.Background()
	h := host.NewSQLHost(host.Config{})
	b := NewBridge(h, nil)

	r := wazero.NewRuntime(ctx)
	if _, err := b.Instantiate(ctx, r); err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	guest, err := r.Instantiate(ctx, memoryOnlyWasm)
	if err != nil {
		t.Fatalf("guest Instantiate failed: %v", err)
	}
	t.Cleanup(func() {
		r.Close(ctx)
		h.Close()
	})
	return b, guest, r
}

func writeGuest(t *testing.T, m api.Module, offset uint32, data string) (uint32, uint32) {
	t.Helper()
	if !m.Memory().Write(offset, []byte(data)) {
		t.Fatalf("Memory.Write(%d) failed", offset)
	}
	return offset, uint32(len(data))
}

func openSession(t *testing.T, b *Bridge, m api.Module) int64 {
	t.Helper()
	ctx := context.Background()
	namePtr, nameLen := writeGuest(t, m, 0, path.Join(t.TempDir(), "guest.db"))
	db := b.dbOpen(ctx, m, types.APIVersion, namePtr, nameLen, engine.OpenReadWrite|engine.OpenCreate)
	if db < 1<<32 {
		t.Fatalf("db_open returned %d", db)
	}
	session := b.sessionNew(ctx, db)
	if session < 1<<32 {
		t.Fatalf("session_new returned %d", session)
	}
	return session
}

func TestRunAndRead(t *testing.T) {
	ctx := context.Background()
	b, guest, _ := setupTestBridge(t)
	session := openSession(t, b, guest)

	inPtr, inLen := writeGuest(t, guest, 1024, `main,2,"CREATE TABLE t (x)",0,"SELECT 'hello' AS greeting",0`)
	n := b.run(ctx, guest, session, inPtr, inLen)
	want := `["ok","okrows",1,"greeting","hello","endrows","bogus"]`
	if int(n) != len(want) {
		t.Fatalf("run returned %d, want %d", n, len(want))
	}

	if got := b.read(ctx, guest, session, 4096, 4); got != ReadBufferTooSmall {
		t.Errorf("read into a small buffer = %d, want %d", got, ReadBufferTooSmall)
	}
	if got := b.read(ctx, guest, session, 4096, 1024); got != n {
		t.Fatalf("read returned %d, want %d", got, n)
	}
	out, _ := guest.Memory().Read(4096, uint32(n))
	if string(out) != want {
		t.Errorf("output = %s, want %s", out, want)
	}
	if got := b.read(ctx, guest, session, 4096, 1024); got != ReadNothingPending {
		t.Errorf("second read = %d, want %d", got, ReadNothingPending)
	}
}

func TestRunDecodeError(t *testing.T) {
	ctx := context.Background()
	b, guest, _ := setupTestBridge(t)
	session := openSession(t, b, guest)

	inPtr, inLen := writeGuest(t, guest, 1024, `main,1,"SELECT 1"`)
	n := b.run(ctx, guest, session, inPtr, inLen)
	if n >= 0 {
		t.Fatalf("run returned %d, want a negative error length", n)
	}
	if got := b.read(ctx, guest, session, 4096, 1024); got != -n {
		t.Fatalf("read returned %d, want %d", got, -n)
	}
	msg, _ := guest.Memory().Read(4096, uint32(-n))
	if !strings.Contains(string(msg), "malformed input at offset 17") {
		t.Errorf("error message = %q", msg)
	}
}

func TestRunOutsideMemory(t *testing.T) {
	ctx := context.Background()
	b, guest, _ := setupTestBridge(t)
	session := openSession(t, b, guest)

	if n := b.run(ctx, guest, session, 65530, 100); n >= 0 {
		t.Errorf("run with an out of range batch returned %d", n)
	}
}

func TestInvalidHandles(t *testing.T) {
	ctx := context.Background()
	b, guest, _ := setupTestBridge(t)

	if got := b.sessionNew(ctx, 12345); got != -engine.Misuse {
		t.Errorf("session_new on a bad handle = %d", got)
	}
	if got := b.dbClose(ctx, 1<<33); got != -engine.Misuse {
		t.Errorf("db_close on a bad handle = %d", got)
	}
	namePtr, nameLen := writeGuest(t, guest, 0, ":memory:")
	if got := b.dbOpen(ctx, guest, types.APIVersion+1, namePtr, nameLen, 0); got != -engine.Misuse {
		t.Errorf("db_open with a bad version = %d", got)
	}

	inPtr, inLen := writeGuest(t, guest, 64, `main,0`)
	for _, session := range []int64{99, -1, 1 << 40} {
		if n := b.run(ctx, guest, session, inPtr, inLen); n >= 0 {
			t.Errorf("run on bad session %d = %d", session, n)
		}
		if got := b.read(ctx, guest, session, 128, 128); got != ReadNothingPending {
			t.Errorf("read on bad session %d = %d", session, got)
		}
	}
	b.mu.Lock()
	pending := len(b.pending)
	b.mu.Unlock()
	if pending != 0 {
		t.Errorf("bad sessions left %d pending entries", pending)
	}
}

func TestStaleSessionKeepsNothingPending(t *testing.T) {
	ctx := context.Background()
	b, guest, _ := setupTestBridge(t)
	session := openSession(t, b, guest)

	b.sessionDispose(ctx, session)
	inPtr, inLen := writeGuest(t, guest, 64, `main,1,"SELECT 1",0`)
	if n := b.run(ctx, guest, session, inPtr, inLen); n >= 0 {
		t.Fatalf("run on a disposed session = %d", n)
	}
	b.mu.Lock()
	_, ok := b.pending[handles.Handle(session)]
	b.mu.Unlock()
	if ok {
		t.Errorf("disposed session has a pending entry")
	}
}

func TestExportedFunctions(t *testing.T) {
	ctx := context.Background()
	_, _, r := setupTestBridge(t)

	mod := r.Module(ModuleName)
	if mod == nil {
		t.Fatalf("host module %q not registered", ModuleName)
	}
	for _, name := range []string{"api_version_check", "db_open", "db_close", "session_new", "session_dispose", "run", "read"} {
		if mod.ExportedFunction(name) == nil {
			t.Errorf("missing export %q", name)
		}
	}

	results, err := mod.ExportedFunction("api_version_check").Call(ctx, types.APIVersion)
	if err != nil {
		t.Fatalf("api_version_check failed: %v", err)
	}
	if int32(results[0]) != 0 {
		t.Errorf("api_version_check(current) = %d", int32(results[0]))
	}
	results, _ = mod.ExportedFunction("api_version_check").Call(ctx, types.APIVersion+7)
	if int32(results[0]) != -engine.Misuse {
		t.Errorf("api_version_check(other) = %d", int32(results[0]))
	}
}

func TestCloseDBDropsPendingOutput(t *testing.T) {
	ctx := context.Background()
	b, guest, _ := setupTestBridge(t)

	namePtr, nameLen := writeGuest(t, guest, 0, ":memory:")
	db := b.dbOpen(ctx, guest, types.APIVersion, namePtr, nameLen, 0)
	session := b.sessionNew(ctx, db)
	if session < 1<<32 {
		t.Fatalf("session_new returned %d", session)
	}
	inPtr, inLen := writeGuest(t, guest, 64, `main,1,"SELECT 1",0`)
	if n := b.run(ctx, guest, session, inPtr, inLen); n <= 0 {
		t.Fatalf("run = %d", n)
	}

	if got := b.dbClose(ctx, db); got != 0 {
		t.Fatalf("db_close = %d", got)
	}
	if got := b.read(ctx, guest, session, 128, 128); got != ReadNothingPending {
		t.Errorf("read after db_close = %d", got)
	}
}
