package detector

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ctxlens/backend/internal/bus"
	"github.com/ctxlens/backend/internal/filequeue"
	"github.com/ctxlens/backend/internal/settings"
	"github.com/ctxlens/backend/pkg/Logger"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	store := settings.New(filepath.Join(t.TempDir(), "settings.json"), nil)
	store.Update(map[string]any{
		settings.KeyConfidenceThreshold: 0.9,
		settings.KeyCooldownSeconds:     300.0,
	})
	dq := filequeue.NewDetectionQueue(filepath.Join(t.TempDir(), "detections_queue.json"))
	out := bus.New("outgoing", 10)
	return New(Logger.New(false), out, dq, store, nil, make(chan struct{}, 1))
}

func TestFilterMonotonicity(t *testing.T) {
	d := newTestDetector(t)
	// confidence >= threshold must never pass, regardless of cooldown state.
	if d.ShouldPass("neural network", 0.95) {
		t.Fatal("expected confidence >= threshold to be rejected")
	}
	if d.ShouldPass("neural network", 0.9) {
		t.Fatal("expected confidence == threshold to be rejected")
	}
}

func TestCooldownCorrectness(t *testing.T) {
	d := newTestDetector(t)
	if !d.ShouldPass("api", 0.85) {
		t.Fatal("expected first call below threshold to pass")
	}
	if d.ShouldPass("api", 0.85) {
		t.Fatal("expected immediate repeat to be rejected by cooldown")
	}
}

func TestStopWordsAreAlwaysRejected(t *testing.T) {
	d := newTestDetector(t)
	if d.ShouldPass("the", 0.1) {
		t.Fatal("expected a stop word to be rejected regardless of confidence")
	}
}

func TestPassesInputGateRejectsShortAndContaminatedText(t *testing.T) {
	if passesInputGate("hi") {
		t.Fatal("expected short text to fail the input gate")
	}
	if passesInputGate("") {
		t.Fatal("expected empty text to fail the input gate")
	}
	if passesInputGate("extract confidence json array format domain") {
		t.Fatal("expected contamination-dominated text to fail the input gate")
	}
}

func TestIsHallucinationDetectsCannedPhrases(t *testing.T) {
	if !IsHallucination("Thanks for watching!") {
		t.Fatal("expected a canned closer to be flagged as hallucination")
	}
	if IsHallucination("We rely on backpropagation in our neural network, thanks.") {
		t.Fatal("did not expect substantial real content to be flagged as hallucination")
	}
}

func TestParseCandidateTermsOutermostArray(t *testing.T) {
	raw := `Sure, here you go:
[{"term":"backpropagation","confidence":0.3,"context":"neural networks","timestamp":1}]
Hope that helps!`
	terms, err := ParseCandidateTerms(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(terms) != 1 || terms[0].Term != "backpropagation" {
		t.Fatalf("unexpected terms: %+v", terms)
	}
}

func TestParseCandidateTermsObjectSweepFallback(t *testing.T) {
	raw := `not valid json but has {"term": "gradient descent", "confidence": 0.4} embedded`
	terms, err := ParseCandidateTerms(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(terms) != 1 || terms[0].Term != "gradient descent" {
		t.Fatalf("unexpected terms: %+v", terms)
	}
}

func TestCooldownRespectsElapsedTime(t *testing.T) {
	store := settings.New(filepath.Join(t.TempDir(), "settings.json"), nil)
	store.Update(map[string]any{
		settings.KeyConfidenceThreshold: 0.9,
		settings.KeyCooldownSeconds:     0.01, // 10ms, so the test doesn't sleep long
	})
	dq := filequeue.NewDetectionQueue(filepath.Join(t.TempDir(), "detections_queue.json"))
	out := bus.New("outgoing", 10)
	d := New(Logger.New(false), out, dq, store, nil, make(chan struct{}, 1))

	if !d.ShouldPass("api", 0.5) {
		t.Fatal("expected first acceptance to pass")
	}
	time.Sleep(20 * time.Millisecond)
	if !d.ShouldPass("api", 0.5) {
		t.Fatal("expected acceptance to pass again once cooldown elapsed")
	}
}
