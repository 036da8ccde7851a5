package auth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/workdesk/termbridge/internal/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestIssueAndValidate(t *testing.T) {
	store := newTestStore(t)

	token, secret, err := IssueToken(store, "laptop")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if secret == "" {
		t.Fatal("secret is empty")
	}
	if token.SecretHash == secret {
		t.Fatal("secret stored in plaintext")
	}

	validator := NewTokenValidator(store)
	got, err := validator.ValidateToken(secret)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if got.ID != token.ID || got.Name != "laptop" {
		t.Errorf("validated token = %+v, want issued token %s", got, token.ID)
	}
}

func TestValidateWrongToken(t *testing.T) {
	store := newTestStore(t)

	if _, _, err := IssueToken(store, "laptop"); err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	validator := NewTokenValidator(store)
	if _, err := validator.ValidateToken("not-the-secret"); err != ErrTokenInvalid {
		t.Errorf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestValidateEmptyStore(t *testing.T) {
	validator := NewTokenValidator(newTestStore(t))
	if _, err := validator.ValidateToken("anything"); err != ErrTokenInvalid {
		t.Errorf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestValidateUpdatesLastSeen(t *testing.T) {
	store := newTestStore(t)

	token, secret, err := IssueToken(store, "laptop")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	validator := NewTokenValidator(store)
	later := token.LastSeen.Add(time.Hour)
	validator.timeNow = func() time.Time { return later }

	if _, err := validator.ValidateToken(secret); err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}

	got, err := store.GetToken(token.ID)
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if !got.LastSeen.Equal(later) {
		t.Errorf("last_seen = %v, want %v", got.LastSeen, later)
	}
}

func TestIssuedSecretsDiffer(t *testing.T) {
	store := newTestStore(t)

	_, first, err := IssueToken(store, "a")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	_, second, err := IssueToken(store, "b")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if first == second {
		t.Error("two issued tokens share a secret")
	}
}
