package record

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// schema holds one row per discovered video, keyed by the platform video ID.
// added_date is text in TimeFormat, local time, written once on first insert.
const schema = `
CREATE TABLE IF NOT EXISTS videos (
    video_id     TEXT PRIMARY KEY,
    url          TEXT NOT NULL,
    username     TEXT NOT NULL DEFAULT '',
    title        TEXT NOT NULL DEFAULT '',
    search_query TEXT NOT NULL DEFAULT '',
    added_date   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_videos_query ON videos(search_query);
`

// sqliteStore persists records in a sqlite database.
type sqliteStore struct {
	db    *sql.DB
	path  string
	known map[string]bool
	now   func() time.Time
}

func openSQLite(path string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("record: open sqlite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("record: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("record: apply schema: %w", err)
	}

	s := &sqliteStore{db: db, path: path, now: time.Now}
	if err := s.loadKnown(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) loadKnown() error {
	rows, err := s.db.Query(`SELECT video_id FROM videos`)
	if err != nil {
		return fmt.Errorf("record: load known ids: %w", err)
	}
	defer rows.Close()

	s.known = make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("record: scan id: %w", err)
		}
		s.known[id] = true
	}
	return rows.Err()
}

func (s *sqliteStore) Path() string           { return s.path }
func (s *sqliteStore) Known() map[string]bool { return s.known }

// Merge appends recs inside one transaction. ON CONFLICT DO NOTHING keeps a
// previously persisted row (and its added_date) even if a caller slips a
// known ID past the filter.
func (s *sqliteStore) Merge(ctx context.Context, recs []VideoRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", ErrPersistence, err)
	}
	defer tx.Rollback()

	stamp := s.now().Format(TimeFormat)
	for _, r := range recs {
		added := stamp
		if !r.DiscoveredAt.IsZero() {
			added = r.DiscoveredAt.Format(TimeFormat)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO videos (video_id, url, username, title, search_query, added_date)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(video_id) DO NOTHING`,
			r.ID, r.URL, r.Username, r.Title, r.Query, added,
		)
		if err != nil {
			return 0, fmt.Errorf("%w: insert %s: %v", ErrPersistence, r.ID, err)
		}
		s.known[r.ID] = true
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", ErrPersistence, err)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM videos`).Scan(&total); err != nil {
		return 0, fmt.Errorf("record: count: %w", err)
	}
	return total, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }
