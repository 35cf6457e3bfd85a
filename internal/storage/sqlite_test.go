package storage

import "testing"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestIndexesExist verifies that the lookup indexes are created by the migration.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_observation_sessions_meeting", "idx_observations_session", "idx_clarifications_session", "idx_jobs_claim", "idx_jobs_dedupe"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestForeignKeysEnabled(t *testing.T) {
	s := openTestStore(t)

	var on int
	if err := s.db.QueryRow("PRAGMA foreign_keys").Scan(&on); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if on != 1 {
		t.Errorf("foreign_keys = %d, want 1", on)
	}
}

func TestEnsureMeeting_Idempotent(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnsureMeeting("m1", "Quarterly close"); err != nil {
		t.Fatalf("EnsureMeeting: %v", err)
	}
	if err := s.EnsureMeeting("m1", "ignored"); err != nil {
		t.Fatalf("EnsureMeeting again: %v", err)
	}

	m, err := s.GetMeeting("m1")
	if err != nil {
		t.Fatalf("GetMeeting: %v", err)
	}
	if m.Title != "Quarterly close" {
		t.Errorf("Title = %q, want %q", m.Title, "Quarterly close")
	}

	list, err := s.ListMeetings(10)
	if err != nil {
		t.Fatalf("ListMeetings: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("len(ListMeetings) = %d, want 1", len(list))
	}
}

func TestGetMeetingNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetMeeting("missing"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteMeeting("missing"); err != ErrNotFound {
		t.Errorf("DeleteMeeting err = %v, want ErrNotFound", err)
	}
}
