package retention

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ctxlens/backend/internal/filequeue"
	"github.com/ctxlens/backend/pkg/Logger"
)

func TestSweepOncePrunesOnlyOldTerminalRecords(t *testing.T) {
	dir := t.TempDir()
	dq := filequeue.NewDetectionQueue(filepath.Join(dir, "detections_queue.json"))
	eq := filequeue.NewExplanationQueue(filepath.Join(dir, "explanations_queue.json"))

	oldTs := float64(time.Now().Add(-48 * time.Hour).UnixNano()) / 1e9
	freshTs := float64(time.Now().UnixNano()) / 1e9

	_ = dq.Append(filequeue.DetectionRecord{ID: "old-processed", Status: filequeue.DetectionProcessed, Timestamp: oldTs})
	_ = dq.Append(filequeue.DetectionRecord{ID: "fresh-processed", Status: filequeue.DetectionProcessed, Timestamp: freshTs})
	_ = dq.Append(filequeue.DetectionRecord{ID: "old-pending", Status: filequeue.DetectionPending, Timestamp: oldTs})

	s, err := NewSweeper(Logger.New(false), dq, eq, nil, 24*time.Hour, "@every 1h")
	if err != nil {
		t.Fatal(err)
	}

	s.sweepOnce()

	remaining, _ := dq.Snapshot()
	ids := map[string]bool{}
	for _, r := range remaining {
		ids[r.ID] = true
	}
	if ids["old-processed"] {
		t.Fatal("expected old processed record to be pruned")
	}
	if !ids["fresh-processed"] {
		t.Fatal("expected fresh processed record to survive")
	}
	if !ids["old-pending"] {
		t.Fatal("expected old pending (non-terminal) record to survive regardless of age")
	}
}
