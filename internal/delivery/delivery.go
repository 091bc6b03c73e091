// Package delivery implements the explanation delivery service (C8):
// it watches the explanations file queue and pushes ready explanations
// onto the outgoing bus for the gateway to broadcast, with at-most-once
// delivery per record id for the lifetime of the process.
package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ctxlens/backend/internal/bus"
	"github.com/ctxlens/backend/internal/envelope"
	"github.com/ctxlens/backend/internal/filequeue"
	"github.com/ctxlens/backend/pkg/Logger"
)

// waitTimeout is the fallback bound on the wait phase when nothing
// signals ready, replacing a fixed-sleep polling loop with an
// event+timeout pattern.
const waitTimeout = 5 * time.Second

// Service is the C8 worker.
type Service struct {
	log          *Logger.Logger
	explanations *filequeue.FileQueue[filequeue.ExplanationRecord]
	outgoing     *bus.Queue
	ready        chan struct{} // signaled by the explainer (C7)
	ledger       *Ledger       // optional durable retention record

	mu        sync.Mutex
	delivered map[string]struct{}
}

// New constructs the delivery service. ledger may be nil to run
// without the optional MySQL retention ledger.
func New(log *Logger.Logger, explanations *filequeue.FileQueue[filequeue.ExplanationRecord], outgoing *bus.Queue, ready chan struct{}, ledger *Ledger) *Service {
	return &Service{
		log:          log,
		explanations: explanations,
		outgoing:     outgoing,
		ready:        ready,
		ledger:       ledger,
		delivered:    map[string]struct{}{},
	}
}

// Run alternates drain and wait phases until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	for {
		if err := s.drain(ctx); err != nil {
			s.log.Errorf("delivery: drain phase: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-s.ready:
		case <-time.After(waitTimeout):
		}
	}
}

// drain loads every ready_for_delivery record, enqueues an envelope
// for each one not already delivered this process lifetime, and
// batch-updates all newly delivered records to status=delivered.
func (s *Service) drain(ctx context.Context) error {
	records, err := s.explanations.LoadByStatus(filequeue.ExplanationReadyForDelivery)
	if err != nil {
		return fmt.Errorf("load ready_for_delivery: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	var toDeliver []filequeue.ExplanationRecord
	s.mu.Lock()
	for _, rec := range records {
		if _, already := s.delivered[rec.ID]; already {
			continue
		}
		toDeliver = append(toDeliver, rec)
	}
	s.mu.Unlock()
	if len(toDeliver) == 0 {
		return nil
	}

	ids := make([]string, 0, len(toDeliver))
	for _, rec := range toDeliver {
		e := envelope.New(rec.MessageType,
			envelope.WithPayload(map[string]any{
				"explanation": map[string]any{
					"term":    rec.Term,
					"content": rec.Explanation,
					"context": rec.Context,
				},
				"original_detection_id": rec.OriginalDetectionID,
			}),
			envelope.WithOrigin("explanation_delivery_service"),
			envelope.WithDestination(envelope.GroupAllFrontends),
		)
		if err := s.outgoing.Enqueue(ctx, e); err != nil {
			return fmt.Errorf("enqueue %s: %w", rec.ID, err)
		}

		s.mu.Lock()
		s.delivered[rec.ID] = struct{}{}
		s.mu.Unlock()
		ids = append(ids, rec.ID)

		if s.ledger != nil {
			if err := s.ledger.Record(rec); err != nil {
				s.log.Warnf("delivery: ledger record for %s: %v", rec.ID, err)
			}
		}
	}

	now := float64(time.Now().UnixNano()) / 1e9
	_, err = s.explanations.UpdateStatus(ids, func(r *filequeue.ExplanationRecord) bool {
		if r.Status != filequeue.ExplanationReadyForDelivery {
			return false
		}
		r.Status = filequeue.ExplanationDelivered
		r.DeliveredAt = &now
		return true
	})
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}
