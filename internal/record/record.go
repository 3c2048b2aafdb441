// Package record defines the persisted video record model, the dedup filter,
// and the durable record stores (sqlite and xlsx).
//
// The dedup key is the platform-assigned video ID: two records with the same
// ID are the same logical item regardless of how their titles were captured.
package record

import (
	"errors"
	"time"
)

// TimeFormat is the layout used for the added_date column, local time.
const TimeFormat = "2006-01-02 15:04:05"

// ErrPersistence is returned when the store file cannot be written.
// The on-disk store is left untouched when this is returned from Merge.
var ErrPersistence = errors.New("record: store not writable")

// VideoRecord is one discovered video. Immutable after creation;
// DiscoveredAt is assigned exactly once, at first successful persistence.
type VideoRecord struct {
	ID           string
	URL          string
	Username     string
	Title        string
	Query        string
	DiscoveredAt time.Time
}

// Filter splits candidates into fresh records and a duplicate count.
//
// A candidate is fresh iff its ID is absent from known. known is updated as
// each candidate is accepted, so a repeated ID later in the same batch counts
// as a duplicate and the first occurrence's fields win.
func Filter(candidates []VideoRecord, known map[string]bool) (fresh []VideoRecord, dupes int) {
	for _, c := range candidates {
		if c.ID == "" || known[c.ID] {
			dupes++
			continue
		}
		known[c.ID] = true
		fresh = append(fresh, c)
	}
	return fresh, dupes
}
