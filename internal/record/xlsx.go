package record

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Videos"

// xlsxHeader fixes the column order of the workbook.
var xlsxHeader = []string{"URL", "Username", "Video ID", "Title", "Search Query", "Added Date"}

// xlsxStore persists records in an Excel workbook, one row per video.
// The header row is written only when the file is newly created.
type xlsxStore struct {
	file    *excelize.File
	path    string
	sheet   string
	known   map[string]bool
	nextRow int // 1-based row index of the next append
	now     func() time.Time
}

func openXLSX(path string) (*xlsxStore, error) {
	s := &xlsxStore{path: path, known: make(map[string]bool), now: time.Now}

	f, err := excelize.OpenFile(path)
	switch {
	case err == nil:
		s.file = f
		if err := s.loadExisting(); err != nil {
			f.Close()
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist):
		s.file = excelize.NewFile()
		if err := s.initSheet(); err != nil {
			s.file.Close()
			return nil, err
		}
		s.nextRow = 2
	default:
		return nil, fmt.Errorf("record: open workbook: %w", err)
	}
	return s, nil
}

// initSheet names the sheet and writes the header row of a fresh workbook.
func (s *xlsxStore) initSheet() error {
	if err := s.file.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return fmt.Errorf("record: name sheet: %w", err)
	}
	s.sheet = xlsxSheet
	for col, h := range xlsxHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := s.file.SetCellValue(s.sheet, cell, h); err != nil {
			return fmt.Errorf("record: write header: %w", err)
		}
	}
	return nil
}

// loadExisting reads the active sheet and collects known video IDs from the
// Video ID column. Rows with a blank ID are tolerated and skipped.
func (s *xlsxStore) loadExisting() error {
	s.sheet = xlsxSheet
	if idx, _ := s.file.GetSheetIndex(xlsxSheet); idx < 0 {
		s.sheet = s.file.GetSheetName(s.file.GetActiveSheetIndex())
	}

	rows, err := s.file.GetRows(s.sheet)
	if err != nil {
		return fmt.Errorf("record: read workbook rows: %w", err)
	}
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		if len(row) > 2 && row[2] != "" {
			s.known[row[2]] = true
		}
	}
	s.nextRow = len(rows) + 1
	if s.nextRow < 2 {
		s.nextRow = 2
	}
	return nil
}

func (s *xlsxStore) Path() string           { return s.path }
func (s *xlsxStore) Known() map[string]bool { return s.known }

// Merge appends recs and saves through a temp file + rename so a failed
// write never corrupts the existing workbook.
func (s *xlsxStore) Merge(ctx context.Context, recs []VideoRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	stamp := s.now().Format(TimeFormat)
	row := s.nextRow
	for _, r := range recs {
		added := stamp
		if !r.DiscoveredAt.IsZero() {
			added = r.DiscoveredAt.Format(TimeFormat)
		}
		for col, v := range []string{r.URL, r.Username, r.ID, r.Title, r.Query, added} {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := s.file.SetCellValue(s.sheet, cell, v); err != nil {
				return 0, fmt.Errorf("%w: write row: %v", ErrPersistence, err)
			}
		}
		s.known[r.ID] = true
		row++
	}

	tmp := s.path + ".tmp"
	if err := s.file.SaveAs(tmp); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("%w: save workbook: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("%w: replace workbook: %v", ErrPersistence, err)
	}

	s.nextRow = row
	return s.nextRow - 2, nil
}

func (s *xlsxStore) Close() error { return s.file.Close() }
