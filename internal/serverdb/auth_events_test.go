package serverdb

import "testing"

func TestAuthEvents(t *testing.T) {
	db := newTestDB(t)

	for _, e := range []struct{ user, kind string }{
		{"Alice", AuthEventLoginFailed},
		{"alice", AuthEventLogin},
		{"bob", AuthEventLogin},
		{"alice", AuthEventRefresh},
	} {
		if err := db.InsertAuthEvent(e.user, e.kind, "127.0.0.1"); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := db.ListAuthEvents("ALICE", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("alice events: got %d, want 3", len(got))
	}
	if got[0].EventType != AuthEventRefresh || got[2].EventType != AuthEventLoginFailed {
		t.Fatalf("expected newest first: %+v", got)
	}
	if got[0].RemoteAddr != "127.0.0.1" || got[0].CreatedAt.IsZero() {
		t.Fatalf("fields not stored: %+v", got[0])
	}

	all, _ := db.ListAuthEvents("", 2)
	if len(all) != 2 {
		t.Fatalf("limit: got %d, want 2", len(all))
	}
}
