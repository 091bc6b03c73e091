package router

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ctxlens/backend/internal/bus"
	"github.com/ctxlens/backend/internal/detector"
	"github.com/ctxlens/backend/internal/envelope"
	"github.com/ctxlens/backend/internal/filequeue"
	"github.com/ctxlens/backend/internal/session"
	"github.com/ctxlens/backend/internal/settings"
	"github.com/ctxlens/backend/internal/simulation"
	"github.com/ctxlens/backend/pkg/Logger"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	dir := t.TempDir()
	log := Logger.New(false)
	store := settings.New(filepath.Join(dir, "settings.json"), log)
	dq := filequeue.NewDetectionQueue(filepath.Join(dir, "detections_queue.json"))
	det := detector.New(log, bus.New("outgoing", 10), dq, store, nil, make(chan struct{}, 1))
	sessions := session.New(log, nil)
	sim := simulation.New(log)

	incoming := bus.New("incoming", 10)
	outgoing := bus.New("outgoing", 10)
	wsOut := bus.New("websocket_out", 10)
	return New(log, incoming, outgoing, wsOut, sessions, store, det, sim)
}

func TestPingRepliesWithPong(t *testing.T) {
	r := newTestRouter(t)
	req := envelope.New("ping", envelope.WithClientID("frontend_A"))
	reply, err := r.handleClientMessage(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Type != "pong" || reply.Destination != "frontend_A" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestSessionCreateAndJoin(t *testing.T) {
	r := newTestRouter(t)

	start := envelope.New("session.start", envelope.WithClientID("frontend_A"))
	created, err := r.handleClientMessage(context.Background(), start)
	if err != nil {
		t.Fatal(err)
	}
	if created.Type != "session.created" {
		t.Fatalf("expected session.created, got %s", created.Type)
	}
	code := created.Payload["code"].(string)

	join := envelope.New("session.join",
		envelope.WithClientID("frontend_B"),
		envelope.WithPayload(map[string]any{"code": code}),
	)
	joined, err := r.handleClientMessage(context.Background(), join)
	if err != nil {
		t.Fatal(err)
	}
	if joined.Type != "session.joined" {
		t.Fatalf("expected session.joined, got %s", joined.Type)
	}

	badJoin := envelope.New("session.join",
		envelope.WithClientID("frontend_C"),
		envelope.WithPayload(map[string]any{"code": "XXXXXX"}),
	)
	rejected, err := r.handleClientMessage(context.Background(), badJoin)
	if err != nil {
		t.Fatal(err)
	}
	if rejected.Type != string(envelope.ErrInvalidInput) {
		t.Fatalf("expected error.invalid_input, got %s", rejected.Type)
	}
}

func TestUnknownMessageTypeRepliesWithError(t *testing.T) {
	r := newTestRouter(t)
	req := envelope.New("made.up.type", envelope.WithClientID("frontend_A"))
	reply, err := r.handleClientMessage(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Type != string(envelope.ErrUnknownMessageType) {
		t.Fatalf("expected error.unknown_message_type, got %s", reply.Type)
	}
}

func TestServiceListenerRewritesFrontendToBroadcastGroup(t *testing.T) {
	r := newTestRouter(t)
	e := envelope.New("explanation.new", envelope.WithDestination("frontend"))
	r.routeServiceMessage(context.Background(), e)

	got, err := r.wsOut.Dequeue(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Destination != envelope.GroupAllFrontends {
		t.Fatalf("expected destination rewritten to %s, got %s", envelope.GroupAllFrontends, got.Destination)
	}
}
