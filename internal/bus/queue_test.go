package bus

import (
	"context"
	"testing"
	"time"

	"github.com/ctxlens/backend/internal/envelope"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := New("test", 4)
	ctx := context.Background()

	e1 := envelope.New("a")
	e2 := envelope.New("b")
	if err := q.Enqueue(ctx, e1); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, e2); err != nil {
		t.Fatal(err)
	}

	got1, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got1.ID != e1.ID {
		t.Fatalf("expected FIFO order, got %s want %s", got1.ID, e1.ID)
	}
	got2, _ := q.Dequeue(ctx)
	if got2.ID != e2.ID {
		t.Fatalf("expected FIFO order, got %s want %s", got2.ID, e2.ID)
	}
}

func TestEnqueueBlocksWhenFull(t *testing.T) {
	q := New("test", 1)
	ctx := context.Background()
	if err := q.Enqueue(ctx, envelope.New("a")); err != nil {
		t.Fatal(err)
	}

	blockedCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := q.Enqueue(blockedCtx, envelope.New("b"))
	if err == nil {
		t.Fatal("expected enqueue to block and time out on a full queue")
	}
}

func TestSnapshotIsNonDestructive(t *testing.T) {
	q := New("test", 4)
	ctx := context.Background()
	e := envelope.New("a")
	_ = q.Enqueue(ctx, e)

	snap := q.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 item in snapshot, got %d", len(snap))
	}
	if q.QSize() != 1 {
		t.Fatalf("snapshot must not remove items, qsize=%d", q.QSize())
	}
}

func TestDrainEmptiesWithoutBlocking(t *testing.T) {
	q := New("test", 4)
	ctx := context.Background()
	_ = q.Enqueue(ctx, envelope.New("a"))
	_ = q.Enqueue(ctx, envelope.New("b"))

	drained := q.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 drained items, got %d", len(drained))
	}
	if q.QSize() != 0 {
		t.Fatalf("expected empty queue after drain, got %d", q.QSize())
	}
}
