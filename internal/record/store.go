package record

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store is a durable, append-friendly record store. A store is the sole
// writer of its file; Merge is one logical critical section
// (load known keys → filter → append).
type Store interface {
	// Path returns the on-disk location of the store file.
	Path() string
	// Known returns the set of IDs already persisted, loaded at open time.
	// The map is live: the dedup filter mutates it as candidates are accepted.
	Known() map[string]bool
	// Merge appends fresh records in order, stamping DiscoveredAt, and writes
	// durably. Returns the post-merge total record count. Existing rows are
	// never rewritten; a failed write leaves the file untouched.
	Merge(ctx context.Context, recs []VideoRecord) (total int, err error)
	Close() error
}

// Open opens (or creates) a record store at path. The backend is chosen by
// extension: .db/.sqlite/.sqlite3 open a sqlite store, everything else an
// xlsx workbook. A missing file is an empty store, not an error.
func Open(path string) (Store, error) {
	if path == "" {
		return nil, fmt.Errorf("record: empty store path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("record: create store dir: %w", err)
		}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return openSQLite(path)
	default:
		return openXLSX(path)
	}
}
