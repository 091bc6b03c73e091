package filequeue

import (
	"path/filepath"
	"testing"
)

func TestAppendAndLoadByStatus(t *testing.T) {
	dir := t.TempDir()
	q := NewDetectionQueue(filepath.Join(dir, "detections_queue.json"))

	rec := DetectionRecord{ID: "d1", Term: "backpropagation", Status: DetectionPending, Timestamp: 1}
	if err := q.Append(rec); err != nil {
		t.Fatal(err)
	}

	pending, err := q.LoadByStatus(DetectionPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != "d1" {
		t.Fatalf("expected 1 pending record, got %+v", pending)
	}
}

func TestMissingFileIsEmptyArray(t *testing.T) {
	dir := t.TempDir()
	q := NewDetectionQueue(filepath.Join(dir, "nonexistent.json"))

	records, err := q.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty snapshot, got %d records", len(records))
	}
}

func TestUpdateStatusTransitionsAndSkipsRace(t *testing.T) {
	dir := t.TempDir()
	q := NewDetectionQueue(filepath.Join(dir, "detections_queue.json"))
	_ = q.Append(DetectionRecord{ID: "d1", Status: DetectionPending, Timestamp: 1})
	_ = q.Append(DetectionRecord{ID: "d2", Status: DetectionProcessed, Timestamp: 2})

	skipped, err := q.UpdateStatus([]string{"d1", "d2"}, func(r *DetectionRecord) bool {
		if r.Status != DetectionPending {
			return false
		}
		r.Status = DetectionProcessing
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(skipped) != 1 || skipped[0] != "d2" {
		t.Fatalf("expected d2 to be skipped as already transitioned, got %v", skipped)
	}

	all, _ := q.Snapshot()
	for _, r := range all {
		if r.ID == "d1" && r.Status != DetectionProcessing {
			t.Fatalf("expected d1 to transition to processing, got %s", r.Status)
		}
		if r.ID == "d2" && r.Status != DetectionProcessed {
			t.Fatalf("expected d2 to remain untouched, got %s", r.Status)
		}
	}
}

func TestSortByTimestampBreaksTiesById(t *testing.T) {
	records := []DetectionRecord{
		{ID: "b", Timestamp: 1},
		{ID: "a", Timestamp: 1},
		{ID: "c", Timestamp: 0},
	}
	SortByTimestamp(records,
		func(r DetectionRecord) float64 { return r.Timestamp },
		func(r DetectionRecord) string { return r.ID },
	)
	want := []string{"c", "a", "b"}
	for i, id := range want {
		if records[i].ID != id {
			t.Fatalf("position %d: got %s want %s", i, records[i].ID, id)
		}
	}
}
