// Package filequeue implements the two JSON-array-backed durable work
// queues (C3) between the detector, explainer, and delivery workers.
// Every write goes to a sibling temp file then is renamed atomically
// over the target, so a concurrent reader always observes a complete
// array, grounded on the same write-temp-then-rename pattern used for
// config persistence elsewhere in the teacher's stack.
package filequeue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileQueue is a generic JSON-array file acting as a durable work
// queue for records of type T. A single mutex per file guards every
// read-modify-write sequence; there is no cross-file transaction.
type FileQueue[T any] struct {
	path     string
	mu       sync.Mutex
	idOf     func(T) string
	statusOf func(T) string
}

// New opens (without yet creating) a file-backed queue at path. idOf
// and statusOf extract the record id and status fields that
// LoadByStatus/UpdateStatus operate on.
func New[T any](path string, idOf func(T) string, statusOf func(T) string) *FileQueue[T] {
	return &FileQueue[T]{path: path, idOf: idOf, statusOf: statusOf}
}

// load reads the whole array. A missing file is treated as empty, per
// the contract that the file is truncated to []  by a supervisor, not
// the core, at process start.
func (f *FileQueue[T]) load() ([]T, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return []T{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filequeue: read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return []T{}, nil
	}
	var records []T
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("filequeue: decode %s: %w", f.path, err)
	}
	return records, nil
}

// writeAll atomically replaces the file's contents with records.
func (f *FileQueue[T]) writeAll(records []T) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("filequeue: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("filequeue: encode %s: %w", f.path, err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("filequeue: write temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("filequeue: atomic replace %s: %w", f.path, err)
	}
	return nil
}

// Append loads the file, appends record, and atomically rewrites it.
func (f *FileQueue[T]) Append(record T) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.load()
	if err != nil {
		return err
	}
	records = append(records, record)
	return f.writeAll(records)
}

// LoadByStatus returns every record whose status matches, ordered as
// stored (callers needing timestamp order, e.g. the explainer, sort
// the result themselves).
func (f *FileQueue[T]) LoadByStatus(status string) ([]T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.load()
	if err != nil {
		return nil, err
	}
	var out []T
	for _, r := range records {
		if f.statusOf(r) == status {
			out = append(out, r)
		}
	}
	return out, nil
}

// UpdateStatus re-reads the file, and for each record whose id is in
// ids applies mutate (which is expected to change the record's status
// and any extra fields, e.g. explanation or delivered_at). mutate
// returns false to signal the transition no longer applies (e.g. the
// status already changed under a racing writer), in which case that
// record is left untouched and reported in skipped.
func (f *FileQueue[T]) UpdateStatus(ids []string, mutate func(*T) bool) (skipped []string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.load()
	if err != nil {
		return nil, err
	}

	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	for i := range records {
		id := f.idOf(records[i])
		if _, ok := want[id]; !ok {
			continue
		}
		if !mutate(&records[i]) {
			skipped = append(skipped, id)
		}
	}

	if err := f.writeAll(records); err != nil {
		return skipped, err
	}
	return skipped, nil
}

// Snapshot returns every record currently on file, unmodified.
func (f *FileQueue[T]) Snapshot() ([]T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

// Prune rewrites the file keeping only records for which keep returns
// true, atomically. It reports how many records were removed. Used by
// the retention sweep to drop terminal records past their window.
func (f *FileQueue[T]) Prune(keep func(T) bool) (removed int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.load()
	if err != nil {
		return 0, err
	}
	kept := make([]T, 0, len(records))
	for _, r := range records {
		if keep(r) {
			kept = append(kept, r)
		} else {
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := f.writeAll(kept); err != nil {
		return 0, err
	}
	return removed, nil
}

// SortByTimestamp orders records ascending by a caller-supplied
// timestamp extractor, breaking ties by id — the order the explainer
// must process pending detections in.
func SortByTimestamp[T any](records []T, timestampOf func(T) float64, idOf func(T) string) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, tj := timestampOf(records[i]), timestampOf(records[j])
		if ti != tj {
			return ti < tj
		}
		return idOf(records[i]) < idOf(records[j])
	})
}
