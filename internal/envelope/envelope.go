// Package envelope defines the single universal record type carried on
// every bus queue, plus the closed error-kind taxonomy used as its type
// when something goes wrong.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GroupAllFrontends is the broadcast destination resolved by the gateway
// to every connection whose client id begins with FrontendPrefix.
const GroupAllFrontends = "all_frontends"

// FrontendPrefix marks a client id as a member of GroupAllFrontends.
const FrontendPrefix = "frontend_"

// ProcessingStep records one hop of internal processing an envelope went
// through. Appended monotonically; never rewritten in place.
type ProcessingStep struct {
	Processor   string         `json:"processor"`
	Status      string         `json:"status"`
	Timestamp   float64        `json:"timestamp"`
	CompletedAt *float64       `json:"completed_at,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// ForwardingStep records one hop of an envelope between named queues.
type ForwardingStep struct {
	Router    string         `json:"router"`
	FromQueue string         `json:"from_queue,omitempty"`
	ToQueue   string         `json:"to_queue,omitempty"`
	Timestamp float64        `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Envelope is the one record type carried on every in-memory queue.
//
// ID never mutates after construction. ProcessingPath and ForwardingPath
// only grow; nothing upstream of New ever rewrites or truncates them.
type Envelope struct {
	ID              string            `json:"id"`
	Type            string            `json:"type"`
	Payload         map[string]any    `json:"payload"`
	Timestamp       float64           `json:"timestamp"`
	Origin          string            `json:"origin,omitempty"`
	Destination     string            `json:"destination,omitempty"`
	ClientID        string            `json:"client_id,omitempty"`
	ProcessingPath  []ProcessingStep  `json:"processing_path"`
	ForwardingPath  []ForwardingStep  `json:"forwarding_path"`
}

// Option mutates an Envelope at construction time.
type Option func(*Envelope)

func WithPayload(p map[string]any) Option {
	return func(e *Envelope) { e.Payload = p }
}

func WithOrigin(origin string) Option {
	return func(e *Envelope) { e.Origin = origin }
}

func WithDestination(dest string) Option {
	return func(e *Envelope) { e.Destination = dest }
}

func WithClientID(clientID string) Option {
	return func(e *Envelope) { e.ClientID = clientID }
}

// New constructs an envelope, assigning a fresh ID and the current
// timestamp. Both are always set here; callers never supply them.
func New(msgType string, opts ...Option) *Envelope {
	e := &Envelope{
		ID:             uuid.NewString(),
		Type:           msgType,
		Payload:        map[string]any{},
		Timestamp:      float64(time.Now().UnixNano()) / 1e9,
		ProcessingPath: []ProcessingStep{},
		ForwardingPath: []ForwardingStep{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AppendProcessing appends a processing step in place and returns the
// envelope for chaining.
func (e *Envelope) AppendProcessing(processor, status string, details map[string]any) *Envelope {
	e.ProcessingPath = append(e.ProcessingPath, ProcessingStep{
		Processor: processor,
		Status:    status,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Details:   details,
	})
	return e
}

// AppendForwarding appends a forwarding step in place and returns the
// envelope for chaining.
func (e *Envelope) AppendForwarding(router, fromQueue, toQueue string) *Envelope {
	e.ForwardingPath = append(e.ForwardingPath, ForwardingStep{
		Router:    router,
		FromQueue: fromQueue,
		ToQueue:   toQueue,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	})
	return e
}

// IsFrontend reports whether a client id belongs to the all_frontends
// broadcast group.
func IsFrontend(clientID string) bool {
	return len(clientID) >= len(FrontendPrefix) && clientID[:len(FrontendPrefix)] == FrontendPrefix
}

// wireEnvelope mirrors Envelope but is used only to detect unexpected
// top-level fields on ingress, per the envelope's "reject unknown fields"
// invariant.
type wireEnvelope Envelope

// UnmarshalStrict decodes raw JSON into an Envelope, rejecting any
// top-level field not part of the envelope schema. Used at the
// WebSocket ingress boundary; internal code may use json.Unmarshal
// directly once a message is already trusted.
func UnmarshalStrict(data []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wireEnvelope
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("envelope: strict decode: %w", err)
	}
	e := Envelope(w)
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	return &e, nil
}
