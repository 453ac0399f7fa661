package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jszwec/csvutil"

	"github.com/roach88/atlas/internal/ir"
)

// ErrNotPublished is returned when a source has nothing for a request.
var ErrNotPublished = errors.New("not published")

// ChangeRecord is one row of a change CSV: a raw change and its level.
//
//	level,old_code,old_name,new_code,new_name,change_occurred
//	2,5030,Klæbu,5001,Trondheim,2020-01-01
type ChangeRecord struct {
	Level ir.Level `csv:"level"`
	ir.RawChange
}

// ReadChangesCSV decodes change records from CSV with a header row.
func ReadChangesCSV(r io.Reader) ([]ChangeRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read change csv: %w", err)
	}
	var records []ChangeRecord
	if err := csvutil.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode change csv: %w", err)
	}
	for i, rec := range records {
		if !rec.Level.Valid() {
			return nil, ir.NewValidationError("level", fmt.Sprint(int(rec.Level)),
				fmt.Sprintf("change csv row %d", i+2))
		}
	}
	return records, nil
}

// WriteChangesCSV encodes change records as CSV with a header row.
func WriteChangesCSV(w io.Writer, records []ChangeRecord) error {
	if len(records) == 0 {
		_, err := io.WriteString(w, "level,old_code,old_name,new_code,new_name,change_occurred\n")
		return err
	}
	b, err := csvutil.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode change csv: %w", err)
	}
	_, err = io.Copy(w, bytes.NewReader(b))
	return err
}

// CSVChangeSource serves change records loaded from a CSV file.
// It implements ChangeSource for a single dimension.
type CSVChangeSource struct {
	dim     ir.Dimension
	records []ChangeRecord
}

// NewCSVChangeSource decodes records for dim from r.
func NewCSVChangeSource(dim ir.Dimension, r io.Reader) (*CSVChangeSource, error) {
	records, err := ReadChangesCSV(r)
	if err != nil {
		return nil, err
	}
	return &CSVChangeSource{dim: dim, records: records}, nil
}

// OpenCSVChangeSource loads a CSV file.
func OpenCSVChangeSource(dim ir.Dimension, path string) (*CSVChangeSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewCSVChangeSource(dim, f)
}

// Records returns every loaded record.
func (s *CSVChangeSource) Records() []ChangeRecord {
	return s.records
}

// Changes implements ChangeSource.
func (s *CSVChangeSource) Changes(_ context.Context, dim ir.Dimension, level ir.Level, from, to ir.Date) ([]ir.RawChange, error) {
	if dim != s.dim {
		return nil, fmt.Errorf("%w: csv holds %s, not %s", ErrNotPublished, s.dim, dim)
	}
	var raws []ir.RawChange
	for _, rec := range s.records {
		if rec.Level == level {
			raws = append(raws, rec.RawChange)
		}
	}
	return filterWindow(raws, from, to), nil
}

// ByLevel groups the records by level.
func (s *CSVChangeSource) ByLevel() map[ir.Level][]ir.RawChange {
	out := map[ir.Level][]ir.RawChange{}
	for _, rec := range s.records {
		out[rec.Level] = append(out[rec.Level], rec.RawChange)
	}
	return out
}
