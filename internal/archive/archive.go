// Package archive implements the per-entity CSV archives that hold fetched
// observations, with key-based deduplication on write.
package archive

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Archive errors.
var (
	ErrNotFound = errors.New("archive not found")
	ErrStorage  = errors.New("archive storage failure")
	ErrSchema   = errors.New("archive schema mismatch")
	ErrParse    = errors.New("archive value unparsable")
)

// Archive is a CSV file whose first row is the header. Rows are unique by
// the archive's key column; the uniqueness is enforced by Dedup before
// Append, not by the file itself.
type Archive struct {
	path string
}

// New returns an archive bound to path. The file is not touched.
func New(path string) *Archive {
	return &Archive{path: path}
}

// Path returns the archive file path.
func (a *Archive) Path() string {
	return a.path
}

// EnsureExists creates the parent directories and an empty file if absent.
func (a *Archive) EnsureExists() error {
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("%w: create directory for %s: %w", ErrStorage, a.path, err)
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrStorage, a.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrStorage, a.path, err)
	}
	return nil
}

// IsEmpty reports whether the archive file has zero bytes.
func (a *Archive) IsEmpty() (bool, error) {
	info, err := os.Stat(a.path)
	if err != nil {
		return false, a.statError(err)
	}
	return info.Size() == 0, nil
}

// LastKey returns the greatest non-blank value of column parsed with layout.
// ok is false when the archive is empty, has no such column, or holds only
// blank values. Only the key column is retained while streaming.
func (a *Archive) LastKey(column, layout string) (t time.Time, ok bool, err error) {
	var last string
	found, err := a.scanColumn(column, func(value string) error {
		if value != "" && value > last {
			last = strings.Clone(value)
		}
		return nil
	})
	if err != nil || !found || last == "" {
		return time.Time{}, false, err
	}

	t, err = time.Parse(layout, last)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %s value %q with layout %q: %w", ErrParse, column, last, layout, err)
	}
	return t, true, nil
}

// Dedup returns the rows of batch whose key value is neither already
// archived nor repeated earlier in the batch; the first occurrence wins. A
// batch without the key column is returned unchanged unless the archive
// carries that column.
func (a *Archive) Dedup(batch *Table, key string) (*Table, error) {
	empty, err := a.IsEmpty()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	archived := false
	if !empty {
		archived, err = a.scanColumn(key, func(value string) error {
			seen[strings.Clone(value)] = struct{}{}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	idx := batch.Column(key)
	if idx < 0 {
		if archived {
			return nil, fmt.Errorf("%w: batch lacks key column %q present in %s", ErrSchema, key, a.path)
		}
		return batch, nil
	}

	return batch.Filter(func(row []string) bool {
		k := cell(row, idx)
		if _, dup := seen[k]; dup {
			return false
		}
		seen[k] = struct{}{}
		return true
	}), nil
}

// Append writes rows to the end of the archive and returns how many were
// written. The header is written only when the file was empty; otherwise the
// rows are projected onto the existing header. Append is not transactional:
// a failure may leave a partial last row.
func (a *Archive) Append(batch *Table) (int, error) {
	if batch.Len() == 0 {
		return 0, nil
	}

	header, err := a.header()
	if err != nil {
		return 0, err
	}

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %w", ErrStorage, a.path, err)
	}
	defer f.Close()

	if err := a.terminateLastLine(f); err != nil {
		return 0, err
	}

	w := csv.NewWriter(f)
	rows := batch.Rows
	if header == nil {
		if err := w.Write(batch.Header); err != nil {
			return 0, fmt.Errorf("%w: write header to %s: %w", ErrStorage, a.path, err)
		}
	} else {
		rows = batch.project(header)
	}
	if err := w.WriteAll(rows); err != nil {
		return 0, fmt.Errorf("%w: append to %s: %w", ErrStorage, a.path, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("%w: close %s: %w", ErrStorage, a.path, err)
	}
	return len(rows), nil
}

// SortBy rewrites the archive with rows stable-sorted ascending by the
// textual value of column. The rewrite goes through a temporary file that
// replaces the archive on success. An empty archive is left alone.
func (a *Archive) SortBy(column string) error {
	records, err := a.readAll()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	header, rows := records[0], records[1:]
	idx := slices.Index(header, column)
	if idx < 0 {
		return fmt.Errorf("%w: column %q not in %s", ErrSchema, column, a.path)
	}
	sortRows(rows, idx)

	return a.rewrite(records)
}

// IsSortedBy reports whether the values of column never decrease. Archives
// without the column are reported as sorted.
func (a *Archive) IsSortedBy(column string) (bool, error) {
	sorted := true
	var prev string
	_, err := a.scanColumn(column, func(value string) error {
		if value < prev {
			sorted = false
			return errStop
		}
		prev = strings.Clone(value)
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return false, err
	}
	return sorted, nil
}

var errStop = errors.New("stop scan")

// scanColumn streams every value of column to fn. found is false when the
// archive has no header or no such column.
func (a *Archive) scanColumn(column string, fn func(value string) error) (found bool, err error) {
	f, err := os.Open(a.path)
	if err != nil {
		return false, a.statError(err)
	}
	defer f.Close()

	r := newReader(f)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, a.readError(err)
	}
	idx := slices.Index(header, column)
	if idx < 0 {
		return false, nil
	}

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return true, a.readError(err)
		}
		if err := fn(cell(record, idx)); err != nil {
			return true, err
		}
	}
}

// header returns the archive header, or nil when the file is empty.
func (a *Archive) header() ([]string, error) {
	f, err := os.Open(a.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorage, a.path, err)
	}
	defer f.Close()

	header, err := newReader(f).Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, a.readError(err)
	}
	return slices.Clone(header), nil
}

func (a *Archive) readAll() ([][]string, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, a.statError(err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, a.readError(err)
	}
	return records, nil
}

func (a *Archive) rewrite(records [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(a.path), filepath.Base(a.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp for %s: %w", ErrStorage, a.path, err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(records); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %w", ErrStorage, tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrStorage, tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), a.path); err != nil {
		return fmt.Errorf("%w: replace %s: %w", ErrStorage, a.path, err)
	}
	return nil
}

// terminateLastLine appends a newline when a previous interrupted write left
// the file without one, so the next row starts on its own line.
func (a *Archive) terminateLastLine(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %w", ErrStorage, a.path, err)
	}
	if info.Size() == 0 {
		return nil
	}

	last := make([]byte, 1)
	r, err := os.Open(a.path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrStorage, a.path, err)
	}
	defer r.Close()
	if _, err := r.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrStorage, a.path, err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := f.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("%w: append to %s: %w", ErrStorage, a.path, err)
	}
	return nil
}

func (a *Archive) statError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, a.path)
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, a.path, err)
}

func (a *Archive) readError(err error) error {
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return fmt.Errorf("%w: %s: %w", ErrParse, a.path, err)
	}
	return fmt.Errorf("%w: read %s: %w", ErrStorage, a.path, err)
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return cr
}
