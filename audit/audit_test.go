package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	db := sqlx.MustConnect("sqlite3", path.Join(t.TempDir(), "audit.db"))
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func setupTestLogger(t *testing.T) *Logger {
	logger, err := NewLogger(setupTestDB(t))
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	return logger
}

func TestDBInit(t *testing.T) {
	db := setupTestDB(t)
	if err := DBInit(db); err != nil {
		t.Fatalf("DBInit returned error: %v", err)
	}
	// A second call must be a no-op.
	if err := DBInit(db); err != nil {
		t.Fatalf("repeated DBInit returned error: %v", err)
	}

	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND tbl_name='batch_audit'"); err != nil {
		t.Fatalf("Failed to query indexes: %v", err)
	}
	if count < 2 {
		t.Errorf("Expected at least 2 indexes, got %d", count)
	}
}

func TestFingerprint(t *testing.T) {
	sum := sha256.Sum256([]byte("main,0"))
	if got := Fingerprint([]byte("main,0")); got != hex.EncodeToString(sum[:]) {
		t.Errorf("Fingerprint = %s", got)
	}
	if Fingerprint([]byte("a")) == Fingerprint([]byte("b")) {
		t.Error("different inputs produced the same fingerprint")
	}
	if got := Fingerprint(nil); got != "" {
		t.Errorf("empty input fingerprint = %q, want empty", got)
	}
}

func TestLog(t *testing.T) {
	logger := setupTestLogger(t)

	err := logger.Log(Event{
		EventType:        string(EventBatchRun),
		Subject:          "alice",
		Database:         "main",
		SessionID:        "3bf3e3c0-6e51-482a-b180-00f6aa568ee9",
		InputBytes:       6,
		OutputBytes:      9,
		InputFingerprint: Fingerprint([]byte("main,0")),
		TokenFingerprint: Fingerprint([]byte("token")),
	})
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	events, err := logger.RecentEvents(10)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	event := events[0]
	if len(event.ID) != 36 {
		t.Errorf("Expected generated UUID, got %q", event.ID)
	}
	if event.Timestamp == 0 {
		t.Error("Expected timestamp to be set")
	}
	if event.Subject != "alice" || event.Database != "main" || event.OutputBytes != 9 {
		t.Errorf("Unexpected event: %+v", event)
	}
	if event.TokenFingerprint == "token" || event.TokenFingerprint == "" {
		t.Errorf("Unexpected token fingerprint %q", event.TokenFingerprint)
	}
}

func TestQueries(t *testing.T) {
	logger := setupTestLogger(t)

	now := time.Now().UTC().Unix()
	events := []Event{
		{EventType: string(EventBatchRun), Subject: "alice", Database: "main", Timestamp: now - 30},
		{EventType: string(EventBatchRejected), Subject: "alice", Database: "main", Timestamp: now - 20, Error: "malformed input at offset 3"},
		{EventType: string(EventAccessDenied), Subject: "bob", Database: "other", Timestamp: now - 10},
		{EventType: string(EventBatchRun), Subject: "bob", Database: "main", Timestamp: now - 2*86400},
	}
	for _, e := range events {
		if err := logger.Log(e); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	alice, err := logger.EventsBySubject("alice", 10)
	if err != nil {
		t.Fatalf("EventsBySubject failed: %v", err)
	}
	if len(alice) != 2 || alice[0].EventType != string(EventBatchRejected) {
		t.Errorf("Unexpected events for alice: %+v", alice)
	}

	runs, err := logger.EventsByType(EventBatchRun, 10)
	if err != nil {
		t.Fatalf("EventsByType failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("Expected 2 batch_run events, got %d", len(runs))
	}

	recent, err := logger.RecentEvents(1)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(recent) != 1 || recent[0].EventType != string(EventAccessDenied) {
		t.Errorf("Unexpected most recent event: %+v", recent)
	}

	deleted, err := logger.DeleteOldEvents(24 * time.Hour)
	if err != nil {
		t.Fatalf("DeleteOldEvents failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted event, got %d", deleted)
	}
}

func TestOpen(t *testing.T) {
	logger, err := Open(path.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer logger.Close()
	if err := logger.Log(Event{EventType: string(EventBatchFailed), Error: "disk I/O error"}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
}
