//go:build darwin || linux

package native

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/tomyedwab/sqlbatch/engine"
)

func openTestConn(t *testing.T) *Conn {
	t.Helper()
	if err := Load(""); err != nil {
		t.Skipf("libsqlite3 unavailable: %v", err)
	}
	conn, err := Open(filepath.Join(t.TempDir(), "native.db"), 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func exec(t *testing.T, conn *Conn, sql string) {
	t.Helper()
	stmt, err := conn.Prepare([]byte(sql))
	if err != nil {
		t.Fatalf("Prepare(%q) failed: %v", sql, err)
	}
	defer stmt.Finalize()
	if _, err := stmt.Step(); err != nil {
		t.Fatalf("Step(%q) failed: %v", sql, err)
	}
}

func TestInsertAndSelect(t *testing.T) {
	conn := openTestConn(t)
	exec(t, conn, "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT, score REAL)")

	stmt, err := conn.Prepare([]byte("INSERT INTO t (name, score) VALUES (?, ?)"))
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if err := stmt.BindText(1, []byte("alice")); err != nil {
		t.Fatalf("BindText failed: %v", err)
	}
	if err := stmt.BindDouble(2, 2.5); err != nil {
		t.Fatalf("BindDouble failed: %v", err)
	}
	if res, err := stmt.Step(); err != nil || res != engine.StepDone {
		t.Fatalf("Step = %v, %v; want done", res, err)
	}
	stmt.Finalize()

	if n, _ := conn.TotalChanges(); n != 1 {
		t.Errorf("TotalChanges = %d, want 1", n)
	}
	if id, _ := conn.LastInsertRowID(); id != 1 {
		t.Errorf("LastInsertRowID = %d, want 1", id)
	}

	stmt, err = conn.Prepare([]byte("SELECT name, score, NULL AS nothing FROM t"))
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	defer stmt.Finalize()
	if res, err := stmt.Step(); err != nil || res != engine.StepRow {
		t.Fatalf("Step = %v, %v; want row", res, err)
	}
	if stmt.ColumnCount() != 3 {
		t.Fatalf("ColumnCount = %d, want 3", stmt.ColumnCount())
	}
	if got := stmt.ColumnName(0); got != "name" {
		t.Errorf("ColumnName(0) = %q", got)
	}
	if got := string(stmt.ColumnText(0)); got != "alice" {
		t.Errorf("ColumnText(0) = %q", got)
	}
	if got := stmt.ColumnType(1); got != engine.Float {
		t.Errorf("ColumnType(1) = %v, want float", got)
	}
	if got := stmt.ColumnType(2); got != engine.Null {
		t.Errorf("ColumnType(2) = %v, want null", got)
	}
	if res, _ := stmt.Step(); res != engine.StepDone {
		t.Errorf("second Step = %v, want done", res)
	}
}

func TestPrepareError(t *testing.T) {
	conn := openTestConn(t)
	_, err := conn.Prepare([]byte("SELEKT 1"))
	var engineErr *engine.Error
	if !errors.As(err, &engineErr) {
		t.Fatalf("expected *engine.Error, got %v", err)
	}
	if engineErr.Code != engine.ErrorCode {
		t.Errorf("Code = %d, want %d", engineErr.Code, engine.ErrorCode)
	}
}

func TestEmptyStatement(t *testing.T) {
	conn := openTestConn(t)
	stmt, err := conn.Prepare([]byte("  "))
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	defer stmt.Finalize()
	if res, err := stmt.Step(); err != nil || res != engine.StepDone {
		t.Errorf("Step = %v, %v; want done", res, err)
	}
	if err := stmt.BindInt64(1, 1); engine.CodeOf(err) != engine.Range {
		t.Errorf("BindInt64 error = %v, want range error", err)
	}
}
