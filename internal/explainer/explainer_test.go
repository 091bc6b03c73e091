package explainer

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ctxlens/backend/internal/filequeue"
	"github.com/ctxlens/backend/internal/settings"
	"github.com/ctxlens/backend/pkg/Logger"
)

type fakeChatClient struct {
	reply string
	err   error
}

func (f *fakeChatClient) Chat(ctx context.Context, system, prompt string) (string, error) {
	return f.reply, f.err
}

func newTestExplainer(t *testing.T, llm *fakeChatClient) (*Explainer, *filequeue.FileQueue[filequeue.DetectionRecord], *filequeue.FileQueue[filequeue.ExplanationRecord]) {
	t.Helper()
	dir := t.TempDir()
	dq := filequeue.NewDetectionQueue(filepath.Join(dir, "detections_queue.json"))
	eq := filequeue.NewExplanationQueue(filepath.Join(dir, "explanations_queue.json"))
	store := settings.New(filepath.Join(dir, "settings.json"), nil)
	x := New(Logger.New(false), dq, eq, store, llm, make(chan struct{}, 1), make(chan struct{}, 1))
	return x, dq, eq
}

func TestProcessOneSuccessWritesExplanationAndMarksProcessed(t *testing.T) {
	x, dq, eq := newTestExplainer(t, &fakeChatClient{reply: "A short explanation."})
	_ = dq.Append(filequeue.DetectionRecord{ID: "d1", Term: "backpropagation", Status: filequeue.DetectionPending, Timestamp: 1})

	x.processPendingBatch(context.Background())

	detections, _ := dq.Snapshot()
	if detections[0].Status != filequeue.DetectionProcessed {
		t.Fatalf("expected detection processed, got %s", detections[0].Status)
	}
	explanations, _ := eq.Snapshot()
	if len(explanations) != 1 || explanations[0].Status != filequeue.ExplanationReadyForDelivery {
		t.Fatalf("expected 1 ready explanation, got %+v", explanations)
	}
}

func TestProcessOneFailureMarksDetectionFailed(t *testing.T) {
	x, dq, _ := newTestExplainer(t, &fakeChatClient{err: fmt.Errorf("timeout")})
	_ = dq.Append(filequeue.DetectionRecord{ID: "d1", Term: "backpropagation", Status: filequeue.DetectionPending, Timestamp: 1})

	x.processPendingBatch(context.Background())

	detections, _ := dq.Snapshot()
	if detections[0].Status != filequeue.DetectionFailed {
		t.Fatalf("expected detection failed, got %s", detections[0].Status)
	}
}

func TestClaimSkipsAlreadyClaimedRecord(t *testing.T) {
	x, dq, _ := newTestExplainer(t, &fakeChatClient{reply: "x"})
	_ = dq.Append(filequeue.DetectionRecord{ID: "d1", Status: filequeue.DetectionProcessing, Timestamp: 1})

	claimed, err := x.claim("d1")
	if err != nil {
		t.Fatal(err)
	}
	if claimed {
		t.Fatal("expected claim to fail on a record that already left pending")
	}
}
