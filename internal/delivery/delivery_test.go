package delivery

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ctxlens/backend/internal/bus"
	"github.com/ctxlens/backend/internal/filequeue"
	"github.com/ctxlens/backend/pkg/Logger"
)

func TestDrainDeliversEachRecordAtMostOnce(t *testing.T) {
	dir := t.TempDir()
	eq := filequeue.NewExplanationQueue(filepath.Join(dir, "explanations_queue.json"))
	out := bus.New("outgoing", 10)
	svc := New(Logger.New(false), eq, out, make(chan struct{}, 1), nil)

	_ = eq.Append(filequeue.ExplanationRecord{
		ID: "e1", Term: "backpropagation", Status: filequeue.ExplanationReadyForDelivery,
		MessageType: filequeue.MessageTypeExplanationNew,
	})

	ctx := context.Background()
	if err := svc.drain(ctx); err != nil {
		t.Fatal(err)
	}
	if err := svc.drain(ctx); err != nil {
		t.Fatal(err)
	}

	if out.QSize() != 1 {
		t.Fatalf("expected exactly one envelope enqueued across both drains, got %d", out.QSize())
	}

	records, _ := eq.Snapshot()
	if records[0].Status != filequeue.ExplanationDelivered || records[0].DeliveredAt == nil {
		t.Fatalf("expected record marked delivered with a timestamp, got %+v", records[0])
	}
}

func TestDrainSkipsAlreadyDeliveredRecordsOnFile(t *testing.T) {
	dir := t.TempDir()
	eq := filequeue.NewExplanationQueue(filepath.Join(dir, "explanations_queue.json"))
	out := bus.New("outgoing", 10)
	svc := New(Logger.New(false), eq, out, make(chan struct{}, 1), nil)

	_ = eq.Append(filequeue.ExplanationRecord{ID: "e1", Status: filequeue.ExplanationDelivered})

	if err := svc.drain(context.Background()); err != nil {
		t.Fatal(err)
	}
	if out.QSize() != 0 {
		t.Fatalf("expected no envelope for an already-delivered record, got %d", out.QSize())
	}
}
