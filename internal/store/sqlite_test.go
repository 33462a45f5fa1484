package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/reportflow/internal/identity"
)

func openTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestOpenSQLite_CreatesNewDatabase(t *testing.T) {
	_, path := openTestSQLite(t)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpenSQLite_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	for i := 0; i < 3; i++ {
		s, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("OpenSQLite() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("final OpenSQLite() failed: %v", err)
	}
	defer s.Close()

	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_recipients_status'").Scan(&name)
	if err != nil {
		t.Errorf("status index not found after idempotent opens: %v", err)
	}

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestOpenSQLite_InvalidPath(t *testing.T) {
	_, err := OpenSQLite("/nonexistent/dir/state.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestSQLite_CloseNilDB(t *testing.T) {
	s := &SQLite{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestSQLite_Pragmas(t *testing.T) {
	s, _ := openTestSQLite(t)

	tests := []struct {
		name, want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
	}
	for _, tt := range tests {
		if err := s.verifyPragma(tt.name, tt.want); err != nil {
			t.Error(err)
		}
	}
}

func TestSQLite_SaveLoadRoundTrip(t *testing.T) {
	s, _ := openTestSQLite(t)
	ctx := context.Background()

	sent := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	want := []Entry{
		{Key: identity.NewKey("Acme Corp", "Alice Bennett"), Company: "Acme Corp", Person: "Alice Bennett",
			Email: "alice@acme.test", Status: StatusSent, SentDate: &sent},
		{Key: identity.NewKey("Beta", "Bob"), Company: "Beta", Person: "Bob", Status: StatusFailed},
	}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Load() returned %d entries, want 2", len(got))
	}
	if got[0].Key != want[0].Key || got[0].Status != StatusSent || got[0].Email != "alice@acme.test" {
		t.Errorf("entry 0 = %+v", got[0])
	}
	if got[0].SentDate == nil || !got[0].SentDate.Equal(sent) {
		t.Errorf("sent_date = %v, want %v", got[0].SentDate, sent)
	}
	if got[1].SentDate != nil {
		t.Errorf("failed entry has sent_date %v", got[1].SentDate)
	}

	// A second save replaces, not appends.
	if err := s.Save(ctx, want[:1]); err != nil {
		t.Fatalf("second Save() failed: %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("after rewrite got %d entries, want 1", len(got))
	}
}

func TestSQLite_RejectsUnknownStatus(t *testing.T) {
	s, _ := openTestSQLite(t)

	_, err := s.db.Exec(`INSERT INTO recipients (key, company, person, status) VALUES ('a|b', 'a', 'b', 'lost')`)
	if err == nil {
		t.Error("expected CHECK constraint failure for unknown status")
	}
}
