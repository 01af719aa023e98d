package serverdb

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/rem/internal/models"
)

func newTestDB(t *testing.T) *ServerDB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestUser(t *testing.T, db *ServerDB, name string) *User {
	t.Helper()
	u, err := db.CreateUser(name, "correct horse")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestOpenRecordsSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if v := db.SchemaVersion(); v != ServerSchemaVersion {
		t.Fatalf("schema version: got %d, want %d", v, ServerSchemaVersion)
	}
	db.Close()

	// Reopening runs nothing.
	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	n, err := db.RunMigrations()
	if err != nil || n != 0 {
		t.Fatalf("migrations on reopen: n=%d err=%v", n, err)
	}
}

// --- User tests ---

func TestCreateUser(t *testing.T) {
	db := newTestDB(t)
	u, err := db.CreateUser("  Alice ", "correct horse")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Username != "alice" {
		t.Errorf("username not normalized: %q", u.Username)
	}

	found, err := db.GetUserByUsername("ALICE")
	if err != nil || found == nil || found.ID != u.ID {
		t.Fatalf("lookup by username: %+v %v", found, err)
	}
	byID, err := db.GetUserByID(u.ID)
	if err != nil || byID == nil || byID.Username != "alice" {
		t.Fatalf("lookup by id: %+v %v", byID, err)
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	db := newTestDB(t)
	newTestUser(t, db, "dup")
	_, err := db.CreateUser("DUP", "another password")
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.CreateUser("", "correct horse"); err == nil {
		t.Fatal("expected error for empty username")
	}
	if _, err := db.CreateUser("bob", "short"); err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestGetUserNotFound(t *testing.T) {
	db := newTestDB(t)
	u, err := db.GetUserByID("u_missing")
	if err != nil || u != nil {
		t.Fatalf("expected nil, nil: got %+v, %v", u, err)
	}
}

func TestVerifyPassword(t *testing.T) {
	db := newTestDB(t)
	u := newTestUser(t, db, "carol")

	got, err := db.VerifyPassword("Carol", "correct horse")
	if err != nil || got == nil || got.ID != u.ID {
		t.Fatalf("valid password: %+v %v", got, err)
	}
	got, err = db.VerifyPassword("carol", "wrong horse")
	if err != nil || got != nil {
		t.Fatalf("wrong password: %+v %v", got, err)
	}
	got, err = db.VerifyPassword("nobody", "correct horse")
	if err != nil || got != nil {
		t.Fatalf("unknown user: %+v %v", got, err)
	}
}

func TestSetPasswordRevokesTokens(t *testing.T) {
	db := newTestDB(t)
	u := newTestUser(t, db, "dave")
	tok, _, err := db.IssueToken(u.ID, TokenAccess, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if err := db.SetPassword(u.ID, "battery staple"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if got, _ := db.VerifyPassword("dave", "battery staple"); got == nil {
		t.Fatal("new password rejected")
	}
	if got, _ := db.VerifyToken(tok, TokenAccess); got != nil {
		t.Fatal("token survived password change")
	}
	if err := db.SetPassword("u_missing", "battery staple"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing user: got %v", err)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	db := newTestDB(t)
	u := newTestUser(t, db, "erin")
	if _, err := db.CreateReminder(u.ID, models.RemoteReminder{Text: "x", Priority: models.PriorityLow}); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteUser(u.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	n, err := db.CountReminders(u.ID)
	if err != nil || n != 0 {
		t.Fatalf("reminders after delete: n=%d err=%v", n, err)
	}
	users, _ := db.ListUsers()
	if len(users) != 0 {
		t.Fatalf("users after delete: %d", len(users))
	}
}
