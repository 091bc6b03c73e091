// Package router implements the router/dispatcher (C9): two listener
// loops over the incoming and service-outgoing queues that
// demultiplex by envelope type and invoke the relevant collaborator.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ctxlens/backend/internal/bus"
	"github.com/ctxlens/backend/internal/detector"
	"github.com/ctxlens/backend/internal/envelope"
	"github.com/ctxlens/backend/internal/session"
	"github.com/ctxlens/backend/internal/settings"
	"github.com/ctxlens/backend/internal/simulation"
	"github.com/ctxlens/backend/pkg/Logger"
)

// backoff is how long a listener loop pauses after an unexpected
// error before resuming, so a persistent failure doesn't spin.
const backoff = time.Second

// Router owns both listener loops over a shared set of collaborators.
type Router struct {
	log      *Logger.Logger
	incoming *bus.Queue
	outgoing *bus.Queue // service-originated messages land here
	wsOut    *bus.Queue // replies/routed messages go out to the gateway here

	sessions   *session.Manager
	settings   *settings.Store
	detector   *detector.Detector
	simulation *simulation.Manager
}

func New(log *Logger.Logger, incoming, outgoing, wsOut *bus.Queue, sessions *session.Manager, store *settings.Store, det *detector.Detector, sim *simulation.Manager) *Router {
	return &Router{
		log:        log,
		incoming:   incoming,
		outgoing:   outgoing,
		wsOut:      wsOut,
		sessions:   sessions,
		settings:   store,
		detector:   det,
		simulation: sim,
	}
}

// Run starts both listener loops and blocks until ctx is cancelled and
// both have exited.
func (r *Router) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); r.clientListener(ctx) }()
	go func() { defer wg.Done(); r.serviceListener(ctx) }()
	wg.Wait()
}

func (r *Router) clientListener(ctx context.Context) {
	r.log.Infof("router: listening for client messages")
	for {
		e, err := r.incoming.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Errorf("router: client listener dequeue: %v", err)
			time.Sleep(backoff)
			continue
		}
		r.processClientMessage(ctx, e)
	}
}

func (r *Router) serviceListener(ctx context.Context) {
	r.log.Infof("router: listening for service messages")
	for {
		e, err := r.outgoing.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Errorf("router: service listener dequeue: %v", err)
			time.Sleep(backoff)
			continue
		}
		r.routeServiceMessage(ctx, e)
	}
}

func (r *Router) processClientMessage(ctx context.Context, e *envelope.Envelope) {
	reply, err := r.handleClientMessage(ctx, e)
	if err != nil {
		r.log.Errorf("router: handling %s from %s: %v", e.Type, e.ClientID, err)
		reply = envelope.NewError(envelope.ErrInternalServer, "MessageRouter", e, err.Error())
	}
	if reply == nil {
		return
	}
	if err := r.wsOut.Enqueue(ctx, reply); err != nil {
		r.log.Errorf("router: enqueue reply for %s: %v", e.ClientID, err)
	}
}

// handleClientMessage implements the dispatch table in §4.9. A nil,
// nil return means "no reply is sent" (e.g. stt.transcription).
func (r *Router) handleClientMessage(ctx context.Context, e *envelope.Envelope) (*envelope.Envelope, error) {
	switch e.Type {
	case "stt.transcription":
		return nil, r.detector.ProcessTranscription(ctx, e)

	case "manual.request":
		term, _ := e.Payload["term"].(string)
		context_, _ := e.Payload["context"].(string)
		return nil, r.detector.ProcessManualRequest(ctx, term, context_, e.ClientID, e.ID)

	case "simulation.start":
		if e.ClientID == "" {
			return envelope.NewError(envelope.ErrInvalidMessageFormat, "MessageRouter", e, "missing client_id for simulation.start"), nil
		}
		if err := r.simulation.Start(e.ClientID); err != nil {
			return nil, err
		}
		return r.ack(e, "Simulation start command received."), nil

	case "simulation.stop":
		if err := r.simulation.Stop(e.ClientID); err != nil {
			return nil, err
		}
		return r.ack(e, "Simulation stop command received."), nil

	case "ping":
		return envelope.New("pong",
			envelope.WithPayload(map[string]any{"timestamp": float64(time.Now().UnixNano()) / 1e9}),
			envelope.WithOrigin("MessageRouter"),
			envelope.WithDestination(e.ClientID),
			envelope.WithClientID(e.ClientID),
		), nil

	case "stt.init":
		r.log.Infof("router: stt module connected for client %s, no action needed", e.ClientID)
		return nil, nil

	case "session.start":
		if e.ClientID == "" {
			return envelope.NewError(envelope.ErrInternalServer, "MessageRouter", e, "session manager unavailable"), nil
		}
		code, err := r.sessions.CreateSession(e.ClientID)
		if err != nil {
			return envelope.NewError(envelope.ErrInvalidInput, "MessageRouter", e, "a session is already active"), nil
		}
		return envelope.New("session.created",
			envelope.WithPayload(map[string]any{"code": code}),
			envelope.WithOrigin("MessageRouter"),
			envelope.WithDestination(e.ClientID),
			envelope.WithClientID(e.ClientID),
		), nil

	case "session.join":
		code, _ := e.Payload["code"].(string)
		if code == "" || e.ClientID == "" {
			return envelope.NewError(envelope.ErrInvalidInput, "MessageRouter", e, "no code provided"), nil
		}
		if !r.sessions.JoinSession(e.ClientID, code) {
			return envelope.NewError(envelope.ErrInvalidInput, "MessageRouter", e, "session code is invalid or the session does not exist"), nil
		}
		return envelope.New("session.joined",
			envelope.WithPayload(map[string]any{"code": code, "message": "joined successfully"}),
			envelope.WithOrigin("MessageRouter"),
			envelope.WithDestination(e.ClientID),
			envelope.WithClientID(e.ClientID),
		), nil

	case "settings.save":
		values, ok := e.Payload["settings"].(map[string]any)
		if !ok {
			values = e.Payload
		}
		r.settings.Update(values)
		if err := r.settings.SaveToFile(); err != nil {
			return nil, fmt.Errorf("save settings: %w", err)
		}
		return r.ack(e, "Settings saved."), nil

	default:
		return envelope.NewError(envelope.ErrUnknownMessageType, "MessageRouter", e, fmt.Sprintf("unknown message type: %q", e.Type)), nil
	}
}

func (r *Router) ack(origin *envelope.Envelope, text string) *envelope.Envelope {
	return envelope.New("system.acknowledgement",
		envelope.WithPayload(map[string]any{"message": text, "original_message_id": origin.ID}),
		envelope.WithOrigin("MessageRouter"),
		envelope.WithDestination(origin.ClientID),
		envelope.WithClientID(origin.ClientID),
	)
}

// routeServiceMessage implements §4.9's service-listener: rewrite
// "frontend" to the broadcast group, pass concrete client ids through,
// otherwise log and drop.
func (r *Router) routeServiceMessage(ctx context.Context, e *envelope.Envelope) {
	switch {
	case e.Destination == "frontend":
		e.Destination = envelope.GroupAllFrontends
		if err := r.wsOut.Enqueue(ctx, e); err != nil {
			r.log.Errorf("router: routing service message %s to all_frontends: %v", e.ID, err)
		}
	case e.Destination != "":
		if err := r.wsOut.Enqueue(ctx, e); err != nil {
			r.log.Errorf("router: routing service message %s to %s: %v", e.ID, e.Destination, err)
		}
	default:
		r.log.Warnf("router: dropping service message %s with no destination", e.ID)
	}
}
