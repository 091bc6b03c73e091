// Package explainer implements the main-model worker (C7): it polls
// pending detections, calls a heavier LLM for a short explanation, and
// writes the result to the explanations file queue for the delivery
// service (C8) to pick up.
package explainer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ctxlens/backend/internal/filequeue"
	"github.com/ctxlens/backend/internal/llmclient"
	"github.com/ctxlens/backend/internal/settings"
	"github.com/ctxlens/backend/pkg/Logger"
)

const llmCallTimeout = 15 * time.Second

// pollInterval is the fallback cadence when nothing signals the
// trigger channel — mirrors the "poll its detections file queue"
// language in the spec while still reacting immediately to C6's
// trigger event.
const pollInterval = 2 * time.Second

// Explainer is the C7 worker.
type Explainer struct {
	log          *Logger.Logger
	detections   *filequeue.FileQueue[filequeue.DetectionRecord]
	explanations *filequeue.FileQueue[filequeue.ExplanationRecord]
	settings     *settings.Store
	llm          llmclient.ChatClient

	trigger chan struct{} // signaled by the detector (C6)
	ready   chan struct{} // signaled to the delivery service (C8)
}

// New constructs an explainer. trigger is the channel the detector
// signals on; ready is the channel this worker signals the delivery
// service on after every write to the explanations file.
func New(log *Logger.Logger, detections *filequeue.FileQueue[filequeue.DetectionRecord], explanations *filequeue.FileQueue[filequeue.ExplanationRecord], store *settings.Store, llm llmclient.ChatClient, trigger, ready chan struct{}) *Explainer {
	return &Explainer{
		log:          log,
		detections:   detections,
		explanations: explanations,
		settings:     store,
		llm:          llm,
		trigger:      trigger,
		ready:        ready,
	}
}

func (x *Explainer) signalReady() {
	select {
	case x.ready <- struct{}{}:
	default:
	}
}

// Run loops until ctx is cancelled. It observes cancellation between
// records, not mid-LLM-call; an in-flight call is best-effort
// cancelled via the per-call context derived from ctx.
func (x *Explainer) Run(ctx context.Context) {
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-x.trigger:
		case <-timer.C:
		}
		x.processPendingBatch(ctx)
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(pollInterval)
	}
}

// processPendingBatch runs one loop body: load pending detections
// oldest-first, and process each in turn, checking for cancellation
// between records.
func (x *Explainer) processPendingBatch(ctx context.Context) {
	pending, err := x.detections.LoadByStatus(filequeue.DetectionPending)
	if err != nil {
		x.log.Errorf("explainer: load pending detections: %v", err)
		return
	}
	filequeue.SortByTimestamp(pending,
		func(r filequeue.DetectionRecord) float64 { return r.Timestamp },
		func(r filequeue.DetectionRecord) string { return r.ID },
	)

	for _, rec := range pending {
		select {
		case <-ctx.Done():
			return
		default:
		}
		x.processOne(ctx, rec, filequeue.MessageTypeExplanationNew)
	}
}

// processOne atomically claims one detection, calls the LLM, and
// writes the result. If the claim loses a race (another consumer
// already moved it off pending), it is skipped.
func (x *Explainer) processOne(ctx context.Context, rec filequeue.DetectionRecord, messageType string) {
	claimed, err := x.claim(rec.ID)
	if err != nil {
		x.log.Errorf("explainer: claim %s: %v", rec.ID, err)
		return
	}
	if !claimed {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, llmCallTimeout)
	defer cancel()

	explanation, err := x.explain(callCtx, rec)
	if err != nil {
		x.log.Warnf("explainer: llm call failed for %q: %v", rec.Term, err)
		x.markFailed(rec.ID, err.Error())
		return
	}

	now := float64(time.Now().UnixNano()) / 1e9
	expRec := filequeue.ExplanationRecord{
		ID:                  uuid.NewString(),
		Term:                rec.Term,
		Explanation:         explanation,
		Context:             rec.Context,
		Confidence:          rec.Confidence,
		Timestamp:           now,
		ClientID:            rec.ClientID,
		UserSessionID:       rec.UserSessionID,
		OriginalDetectionID: rec.ID,
		Status:              filequeue.ExplanationReadyForDelivery,
		MessageType:         messageType,
	}
	if err := x.explanations.Append(expRec); err != nil {
		x.log.Errorf("explainer: append explanation for %q: %v", rec.Term, err)
		x.markFailed(rec.ID, err.Error())
		return
	}

	x.markProcessed(rec.ID, explanation)
	x.signalReady()
}

// RetryFailed re-enqueues a failed detection for another explanation
// attempt, emitting explanation.retry on success. This is the manual,
// out-of-band retry path the spec allows but does not mandate
// automating.
func (x *Explainer) RetryFailed(ctx context.Context, detectionID string) error {
	all, err := x.detections.Snapshot()
	if err != nil {
		return fmt.Errorf("explainer: snapshot detections: %w", err)
	}
	for _, rec := range all {
		if rec.ID == detectionID && rec.Status == filequeue.DetectionFailed {
			// processOne only claims pending records, so put the failed
			// record back on pending first.
			_, err := x.detections.UpdateStatus([]string{rec.ID}, func(r *filequeue.DetectionRecord) bool {
				if r.Status != filequeue.DetectionFailed {
					return false
				}
				r.Status = filequeue.DetectionPending
				r.FailureReason = ""
				return true
			})
			if err != nil {
				return fmt.Errorf("explainer: re-enqueue %s: %w", detectionID, err)
			}
			x.processOne(ctx, rec, filequeue.MessageTypeExplanationRetry)
			return nil
		}
	}
	return fmt.Errorf("explainer: no failed detection with id %s", detectionID)
}

func (x *Explainer) claim(id string) (bool, error) {
	skipped, err := x.detections.UpdateStatus([]string{id}, func(r *filequeue.DetectionRecord) bool {
		if r.Status != filequeue.DetectionPending {
			return false
		}
		r.Status = filequeue.DetectionProcessing
		return true
	})
	if err != nil {
		return false, err
	}
	for _, s := range skipped {
		if s == id {
			return false, nil
		}
	}
	return true, nil
}

func (x *Explainer) markProcessed(id, explanation string) {
	_, err := x.detections.UpdateStatus([]string{id}, func(r *filequeue.DetectionRecord) bool {
		r.Status = filequeue.DetectionProcessed
		r.Explanation = explanation
		return true
	})
	if err != nil {
		x.log.Errorf("explainer: mark processed %s: %v", id, err)
	}
}

func (x *Explainer) markFailed(id, reason string) {
	_, err := x.detections.UpdateStatus([]string{id}, func(r *filequeue.DetectionRecord) bool {
		r.Status = filequeue.DetectionFailed
		r.FailureReason = reason
		return true
	})
	if err != nil {
		x.log.Errorf("explainer: mark failed %s: %v", id, err)
	}
}

func (x *Explainer) explain(ctx context.Context, rec filequeue.DetectionRecord) (string, error) {
	domain := x.settings.GetString(settings.KeyDomain, "general")
	style := x.settings.GetString(settings.KeyExplanationStyle, "neutral")

	system := fmt.Sprintf(
		"You explain jargon terms in 1-2 sentences, neutrally, for a %s audience in the %s domain.",
		style, domain)
	prompt := fmt.Sprintf("Term: %q\nContext it was used in: %q\nExplain this term.", rec.Term, rec.Context)

	reply, err := x.llm.Chat(ctx, system, prompt)
	if err != nil {
		return "", fmt.Errorf("llm call: %w", err)
	}
	if reply == "" {
		return "", fmt.Errorf("empty explanation")
	}
	return reply, nil
}
