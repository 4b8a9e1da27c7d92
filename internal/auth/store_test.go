package auth

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "auth.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestRegisterAndLogin(t *testing.T) {
	store := newTestStore(t)

	u, err := store.Register("zhangsan", "secret123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.ID == 0 {
		t.Error("expected non-zero user id")
	}
	if u.Username != "zhangsan" {
		t.Errorf("username = %q", u.Username)
	}

	got, err := store.Login("zhangsan", "secret123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("login id = %d, want %d", got.ID, u.ID)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Register("lisi", "secret123"); err != nil {
		t.Fatal(err)
	}
	_, err := store.Register("lisi", "another456")
	if !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("got %v, want ErrUsernameTaken", err)
	}
}

func TestRegisterTrimsUsername(t *testing.T) {
	store := newTestStore(t)

	u, err := store.Register("  wangwu  ", "secret123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Username != "wangwu" {
		t.Errorf("username = %q, want wangwu", u.Username)
	}
	if _, err := store.Login("wangwu", "secret123"); err != nil {
		t.Errorf("Login after trim: %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Register("zhangsan", "secret123"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Login("zhangsan", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v, want ErrInvalidCredentials", err)
	}
	if _, err := store.Login("ghost", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: got %v, want ErrInvalidCredentials", err)
	}
}

func TestGetUserMissing(t *testing.T) {
	store := newTestStore(t)

	u, err := store.GetUser(42)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u != nil {
		t.Errorf("expected nil, got %+v", u)
	}
}

func TestSessionLifecycle(t *testing.T) {
	m := NewSessionManager(time.Hour)
	user := &User{ID: 7, Username: "zhangsan"}

	token := m.Create(user)
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	sess := m.Lookup(token)
	if sess == nil || sess.UserID != 7 || sess.Username != "zhangsan" {
		t.Fatalf("Lookup = %+v", sess)
	}

	m.Revoke(token)
	if m.Lookup(token) != nil {
		t.Error("session still resolvable after revoke")
	}
}

func TestSessionExpiry(t *testing.T) {
	m := NewSessionManager(time.Millisecond)
	token := m.Create(&User{ID: 1, Username: "a"})

	time.Sleep(5 * time.Millisecond)

	if m.Lookup(token) != nil {
		t.Error("expired session still resolvable")
	}
	if removed := m.Sweep(); removed != 0 {
		// Lookup already removed it lazily.
		t.Errorf("Sweep removed %d, want 0", removed)
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	m := NewSessionManager(time.Millisecond)
	m.Create(&User{ID: 1, Username: "a"})
	m.Create(&User{ID: 2, Username: "b"})

	time.Sleep(5 * time.Millisecond)

	if removed := m.Sweep(); removed != 2 {
		t.Errorf("Sweep removed %d, want 2", removed)
	}
}

func TestLookupEmptyToken(t *testing.T) {
	m := NewSessionManager(0)
	if m.Lookup("") != nil {
		t.Error("empty token resolved to a session")
	}
}
