package record

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *sqliteStore {
	t.Helper()
	s, err := openSQLite(filepath.Join(t.TempDir(), "videos.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_MissingFileIsEmptyStore(t *testing.T) {
	// WHAT: Opening a path that does not exist yields an empty store.
	// WHY: First run against a fresh output path must not fail.
	s := openTestStore(t)
	if len(s.Known()) != 0 {
		t.Errorf("known: got %d ids, want 0", len(s.Known()))
	}
}

func TestSQLite_MergeAndReload(t *testing.T) {
	// WHAT: Merged records survive a close/reopen round trip.
	// WHY: The known-key set drives dedup on the next run.
	path := filepath.Join(t.TempDir(), "videos.db")
	s, err := openSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	total, err := s.Merge(ctx, []VideoRecord{
		{ID: "1", URL: "https://www.tiktok.com/@a/video/1", Username: "a", Query: "cats"},
		{ID: "2", URL: "https://www.tiktok.com/@b/video/2", Username: "b", Query: "cats"},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if total != 2 {
		t.Errorf("total: got %d, want 2", total)
	}
	s.Close()

	s2, err := openSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if len(s2.Known()) != 2 || !s2.Known()["1"] || !s2.Known()["2"] {
		t.Errorf("known after reload: %v", s2.Known())
	}
}

func TestSQLite_TimestampImmutable(t *testing.T) {
	// WHAT: Re-merging an already-persisted ID does not change its added_date.
	// WHY: The discovery timestamp records first sighting, permanently.
	s := openTestStore(t)
	ctx := context.Background()

	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local) }
	if _, err := s.Merge(ctx, []VideoRecord{{ID: "x", URL: "u"}}); err != nil {
		t.Fatalf("first merge: %v", err)
	}

	s.now = func() time.Time { return time.Date(2026, 6, 7, 8, 9, 10, 0, time.Local) }
	total, err := s.Merge(ctx, []VideoRecord{{ID: "x", URL: "u", Title: "changed"}})
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if total != 1 {
		t.Errorf("total: got %d, want 1", total)
	}

	var added string
	if err := s.db.QueryRow(`SELECT added_date FROM videos WHERE video_id='x'`).Scan(&added); err != nil {
		t.Fatalf("query: %v", err)
	}
	if added != "2026-01-02 03:04:05" {
		t.Errorf("added_date rewritten: got %q", added)
	}
}

func TestSQLite_KeyUniqueness(t *testing.T) {
	// WHAT: No two rows ever share a video_id.
	// WHY: video_id is the primary key and the dedup contract.
	s := openTestStore(t)
	ctx := context.Background()

	s.Merge(ctx, []VideoRecord{{ID: "1", URL: "u"}})
	s.Merge(ctx, []VideoRecord{{ID: "1", URL: "u"}, {ID: "2", URL: "v"}})

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM videos`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("rows: got %d, want 2", n)
	}
}

func TestOpen_DispatchesOnExtension(t *testing.T) {
	// WHAT: Open picks sqlite for .db and xlsx for anything else.
	// WHY: The output path is the only backend selector exposed to callers.
	dir := t.TempDir()

	s, err := Open(filepath.Join(dir, "out.db"))
	if err != nil {
		t.Fatalf("open .db: %v", err)
	}
	if _, ok := s.(*sqliteStore); !ok {
		t.Errorf("want sqlite store, got %T", s)
	}
	s.Close()

	s, err = Open(filepath.Join(dir, "out.xlsx"))
	if err != nil {
		t.Fatalf("open .xlsx: %v", err)
	}
	if _, ok := s.(*xlsxStore); !ok {
		t.Errorf("want xlsx store, got %T", s)
	}
	s.Close()
}
