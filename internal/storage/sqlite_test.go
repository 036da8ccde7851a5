package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenCreatesSchema(t *testing.T) {
	store := newTestStore(t)

	// Fresh database should answer queries on both tables.
	if _, err := store.ListSessions(0); err != nil {
		t.Errorf("ListSessions on fresh db failed: %v", err)
	}
	if _, err := store.ListTokens(); err != nil {
		t.Errorf("ListTokens on fresh db failed: %v", err)
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.db")

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	if err := store.SessionStarted("s1", "/tmp", "sh", time.Now()); err != nil {
		t.Fatalf("SessionStarted failed: %v", err)
	}
	store.Close()

	store, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer store.Close()

	rec, err := store.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if rec == nil {
		t.Fatal("session record lost across reopen")
	}
}

func TestSessionLifecycleRecord(t *testing.T) {
	store := newTestStore(t)

	started := time.Now().Add(-time.Minute)
	if err := store.SessionStarted("s1", "/srv/project", "vim", started); err != nil {
		t.Fatalf("SessionStarted failed: %v", err)
	}

	rec, err := store.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if rec.Status != "running" {
		t.Errorf("status = %q, want running", rec.Status)
	}
	if rec.WorkDir != "/srv/project" || rec.Command != "vim" {
		t.Errorf("record = %+v, unexpected fields", rec)
	}
	if !rec.StartedAt.Equal(started) {
		t.Errorf("started_at = %v, want %v", rec.StartedAt, started)
	}
	if !rec.EndedAt.IsZero() {
		t.Errorf("ended_at should be zero for a running session")
	}

	ended := time.Now()
	if err := store.SessionEnded("s1", ended, 2, "exit status 2"); err != nil {
		t.Fatalf("SessionEnded failed: %v", err)
	}

	rec, err = store.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if rec.Status != "terminated" || rec.ExitCode != 2 || rec.Reason != "exit status 2" {
		t.Errorf("record after end = %+v", rec)
	}
	if !rec.EndedAt.Equal(ended) {
		t.Errorf("ended_at = %v, want %v", rec.EndedAt, ended)
	}
}

func TestSessionEndedUnknownID(t *testing.T) {
	store := newTestStore(t)

	err := store.SessionEnded("missing", time.Now(), 0, "exit status 0")
	if err != ErrSessionNotFound {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestGetSessionMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.GetSession("missing")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if rec != nil {
		t.Errorf("rec = %+v, want nil", rec)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	store := newTestStore(t)

	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i) * time.Second)
		if err := store.SessionStarted(id, "/tmp", "sh", at); err != nil {
			t.Fatalf("SessionStarted(%s) failed: %v", id, err)
		}
	}

	records, err := store.ListSessions(2)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
	if records[0].ID != "c" || records[1].ID != "b" {
		t.Errorf("order = [%s %s], want [c b]", records[0].ID, records[1].ID)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	token := &Token{
		ID:         "t1",
		Name:       "laptop",
		SecretHash: "$2a$10$fakehash",
		CreatedAt:  now,
		LastSeen:   now,
	}
	if err := store.SaveToken(token); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	got, err := store.GetToken("t1")
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if got == nil || got.Name != "laptop" || got.SecretHash != token.SecretHash {
		t.Errorf("got = %+v, want saved token", got)
	}

	tokens, err := store.ListTokens()
	if err != nil {
		t.Fatalf("ListTokens failed: %v", err)
	}
	if len(tokens) != 1 {
		t.Errorf("len = %d, want 1", len(tokens))
	}
}

func TestUpdateTokenLastSeen(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	if err := store.SaveToken(&Token{ID: "t1", SecretHash: "h", CreatedAt: now, LastSeen: now}); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	later := now.Add(time.Hour)
	if err := store.UpdateTokenLastSeen("t1", later); err != nil {
		t.Fatalf("UpdateTokenLastSeen failed: %v", err)
	}
	got, err := store.GetToken("t1")
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if !got.LastSeen.Equal(later) {
		t.Errorf("last_seen = %v, want %v", got.LastSeen, later)
	}

	if err := store.UpdateTokenLastSeen("missing", later); err != ErrTokenNotFound {
		t.Errorf("err = %v, want ErrTokenNotFound", err)
	}
}

func TestDeleteTokenIdempotent(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	if err := store.SaveToken(&Token{ID: "t1", SecretHash: "h", CreatedAt: now, LastSeen: now}); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}
	if err := store.DeleteToken("t1"); err != nil {
		t.Fatalf("DeleteToken failed: %v", err)
	}
	if err := store.DeleteToken("t1"); err != nil {
		t.Errorf("second DeleteToken failed: %v", err)
	}
	got, err := store.GetToken("t1")
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if got != nil {
		t.Error("token still present after delete")
	}
}
