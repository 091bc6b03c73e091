// Package detector implements the small-model worker (C6): it consumes
// stt.transcription envelopes, extracts candidate jargon terms via an
// external LLM, filters them, and persists accepted ones to the
// detections file queue for the explainer (C7) to pick up.
package detector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ctxlens/backend/internal/bus"
	"github.com/ctxlens/backend/internal/envelope"
	"github.com/ctxlens/backend/internal/filequeue"
	"github.com/ctxlens/backend/internal/llmclient"
	"github.com/ctxlens/backend/internal/settings"
	"github.com/ctxlens/backend/pkg/Logger"
)

// ManualRequestDefaultConfidence is used for a manual.request term the
// LLM does not itself return, lifted from the original prompt's
// example confidence for a flagged term.
const ManualRequestDefaultConfidence = 0.7

const llmCallTimeout = 10 * time.Second

// Detector is the C6 worker. One instance owns its own cooldown map;
// it is never shared across processes.
type Detector struct {
	log        *Logger.Logger
	outgoing   *bus.Queue
	detections *filequeue.FileQueue[filequeue.DetectionRecord]
	settings   *settings.Store
	llm        llmclient.ChatClient

	cooldownMu sync.Mutex
	cooldown   map[string]time.Time

	trigger chan struct{}
}

// New constructs a detector. trigger is a buffered, non-blocking
// one-bit signal channel the explainer selects on instead of the
// detector calling into it directly, per the spec's "trigger as event,
// not direct call" design note.
func New(log *Logger.Logger, outgoing *bus.Queue, detections *filequeue.FileQueue[filequeue.DetectionRecord], store *settings.Store, llm llmclient.ChatClient, trigger chan struct{}) *Detector {
	return &Detector{
		log:        log,
		outgoing:   outgoing,
		detections: detections,
		settings:   store,
		llm:        llm,
		cooldown:   map[string]time.Time{},
		trigger:    trigger,
	}
}

func (d *Detector) signalExplainer() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// ShouldPass is the per-term filter (§4.6 step 3, §8 invariant 2/3).
// confidence is validated to be in [0,1] by the caller before this is
// invoked; interpretation is fixed: higher confidence means more
// common/well-known, hence acceptance requires confidence strictly
// below the threshold. Do not invert this to ">" — that regression is
// exactly what the filter-monotonicity property test guards against.
func (d *Detector) ShouldPass(term string, confidence float64) bool {
	threshold := d.settings.GetFloat(settings.KeyConfidenceThreshold, 0.9)
	if confidence >= threshold {
		return false
	}

	lower := strings.ToLower(strings.TrimSpace(term))
	if lower == "" {
		return false
	}
	if _, stop := stopWords[lower]; stop {
		return false
	}

	if d.inCooldown(lower) {
		return false
	}

	d.markAccepted(lower)
	return true
}

func (d *Detector) inCooldown(lowerTerm string) bool {
	cooldownSeconds := d.settings.GetFloat(settings.KeyCooldownSeconds, 300)

	d.cooldownMu.Lock()
	defer d.cooldownMu.Unlock()
	last, ok := d.cooldown[lowerTerm]
	if !ok {
		return false
	}
	return time.Since(last) < time.Duration(cooldownSeconds*float64(time.Second))
}

func (d *Detector) markAccepted(lowerTerm string) {
	d.cooldownMu.Lock()
	defer d.cooldownMu.Unlock()
	d.cooldown[lowerTerm] = time.Now()
}

// ProcessTranscription runs the full detection pipeline (§4.6 steps
// 1-7) over one stt.transcription envelope.
func (d *Detector) ProcessTranscription(ctx context.Context, e *envelope.Envelope) error {
	text, _ := e.Payload["text"].(string)

	if !passesInputGate(text) {
		return nil
	}
	if IsHallucination(text) {
		return nil
	}

	candidates, err := d.extractTerms(ctx, text)
	if err != nil {
		d.log.Warnf("detector: llm extraction failed, using regex fallback: %v", err)
		candidates = fallbackToCandidates(regexFallbackDetect(text))
	}

	var accepted []CandidateTerm
	for _, c := range candidates {
		if c.Confidence < 0 || c.Confidence > 1 {
			continue
		}
		if d.ShouldPass(c.Term, c.Confidence) {
			accepted = append(accepted, c)
		}
	}
	if len(accepted) == 0 {
		return nil
	}

	if err := d.emitImmediateFeedback(ctx, e, accepted); err != nil {
		d.log.Errorf("detector: emit immediate feedback: %v", err)
	}

	now := float64(time.Now().UnixNano()) / 1e9
	for _, c := range accepted {
		rec := filequeue.DetectionRecord{
			ID:                uuid.NewString(),
			Term:              c.Term,
			Context:           c.Context,
			Confidence:        c.Confidence,
			Timestamp:         now,
			ClientID:          e.ClientID,
			OriginalMessageID: e.ID,
			Status:            filequeue.DetectionPending,
		}
		if err := d.detections.Append(rec); err != nil {
			d.log.Errorf("detector: persist detection for %q: %v", c.Term, err)
		}
	}

	d.signalExplainer()
	return nil
}

// ProcessManualRequest implements the manual.request path (§4.6): it
// skips gating and hallucination checks and performs only extraction
// and persistence for a single requested term.
func (d *Detector) ProcessManualRequest(ctx context.Context, term, context_ string, clientID, originalMessageID string) error {
	confidence := ManualRequestDefaultConfidence
	if candidates, err := d.extractTerms(ctx, context_); err == nil {
		for _, c := range candidates {
			if strings.EqualFold(c.Term, term) {
				confidence = c.Confidence
				break
			}
		}
	}

	rec := filequeue.DetectionRecord{
		ID:                uuid.NewString(),
		Term:              term,
		Context:           context_,
		Confidence:        confidence,
		Timestamp:         float64(time.Now().UnixNano()) / 1e9,
		ClientID:          clientID,
		OriginalMessageID: originalMessageID,
		Status:            filequeue.DetectionPending,
	}
	if err := d.detections.Append(rec); err != nil {
		return fmt.Errorf("detector: persist manual request: %w", err)
	}
	d.signalExplainer()
	return nil
}

func (d *Detector) extractTerms(ctx context.Context, text string) ([]CandidateTerm, error) {
	ctx, cancel := context.WithTimeout(ctx, llmCallTimeout)
	defer cancel()

	prompt := buildExtractionPrompt(text, d.settings.GetString(settings.KeyDomain, "general"))
	raw, err := d.llm.Chat(ctx, "", prompt)
	if err != nil {
		return nil, fmt.Errorf("llm call: %w", err)
	}
	return ParseCandidateTerms(raw)
}

func buildExtractionPrompt(text, domain string) string {
	return fmt.Sprintf(
		"Extract domain-specific or jargon terms from the following utterance in the %s domain. "+
			"Respond with a raw JSON array only, no surrounding text, of objects shaped "+
			`{"term":string,"confidence":number between 0 and 1,"context":string,"timestamp":number}. `+
			"Confidence means how common/well-known the term already is: higher confidence means the term needs "+
			"less explanation. Utterance: %q", domain, text)
}

func fallbackToCandidates(fallback []fallbackCandidate) []CandidateTerm {
	out := make([]CandidateTerm, 0, len(fallback))
	for _, f := range fallback {
		out = append(out, CandidateTerm{Term: f.Term, Confidence: fallbackConfidence})
	}
	return out
}

// emitImmediateFeedback enqueues a detection.immediate envelope so the
// UI can render placeholders before explanations are ready (§4.6 step
// 5).
func (d *Detector) emitImmediateFeedback(ctx context.Context, origin *envelope.Envelope, accepted []CandidateTerm) error {
	terms := make([]map[string]any, 0, len(accepted))
	for _, c := range accepted {
		terms = append(terms, map[string]any{
			"term":    c.Term,
			"context": c.Context,
			"status":  "loading",
		})
	}
	e := envelope.New("detection.immediate",
		envelope.WithPayload(map[string]any{"terms": terms, "original_message_id": origin.ID}),
		envelope.WithOrigin("frontend"),
		envelope.WithDestination("frontend"),
	)
	return d.outgoing.Enqueue(ctx, e)
}
