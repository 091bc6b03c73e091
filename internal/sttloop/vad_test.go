package sttloop

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	audioring "github.com/ctxlens/backend/pkg/io/stt/audioRing"
	"github.com/ctxlens/backend/pkg/Logger"
)

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) TranscribeAudio(ctx context.Context, frames []audioring.AudioInput) (*TranscriptionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &TranscriptionResult{Text: f.text}, nil
}

func silentFrame(n int) audioring.AudioInput {
	return audioring.AudioInput{Data: make([]byte, n), SampleRate: 16000, Channels: 1}
}

func loudFrame(n int) audioring.AudioInput {
	data := make([]byte, n)
	bits := math.Float32bits(0.9) // well above any energy threshold
	for i := 0; i+3 < n; i += 4 {
		binary.LittleEndian.PutUint32(data[i:], bits)
	}
	return audioring.AudioInput{Data: data, SampleRate: 16000, Channels: 1}
}

func newTestLoop(t *testing.T, profile Profile, tr Transcriber) *Loop {
	t.Helper()
	return NewLoop(Logger.New(false), profile, "stt_service_1", tr)
}

func TestIdleStaysIdleOnSilence(t *testing.T) {
	l := newTestLoop(t, ProfileByName("current_default"), &fakeTranscriber{})
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		l.processFrame(ctx, silentFrame(640))
	}
	if got := l.currentState(); got != StateIdle {
		t.Fatalf("expected Idle after only silence, got %s", got)
	}
}

func TestVoiceDetectedTransitionsToSpeaking(t *testing.T) {
	l := newTestLoop(t, ProfileByName("current_default"), &fakeTranscriber{})
	ctx := context.Background()
	l.processFrame(ctx, loudFrame(640))
	if got := l.currentState(); got != StateSpeaking {
		t.Fatalf("expected Speaking after a loud frame, got %s", got)
	}
}

func TestSustainedSilenceAfterSpeechFlushesToIdle(t *testing.T) {
	profile := ProfileByName("current_default")
	profile.VADSilenceDurationS = 0.05 // keep the test fast
	l := newTestLoop(t, profile, &fakeTranscriber{text: "we discussed the quarterly roadmap today"})
	ctx := context.Background()

	l.processFrame(ctx, loudFrame(640))
	if got := l.currentState(); got != StateSpeaking {
		t.Fatalf("expected Speaking, got %s", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		l.processFrame(ctx, silentFrame(640))
		if l.currentState() == StateIdle {
			break
		}
	}
	if got := l.currentState(); got != StateIdle {
		t.Fatalf("expected flush to return to Idle, got %s", got)
	}

	// Once streaming_min_buffer_s of audio is buffered the loop also
	// emits an interim result; skip those and look for the final one.
	for {
		select {
		case e := <-l.Outbound():
			if e.Type == "stt.transcription.interim" {
				continue
			}
			if e.Type != "stt.transcription" {
				t.Fatalf("expected a final stt.transcription, got %s", e.Type)
			}
		default:
			t.Fatal("expected a final transcription to be emitted")
		}
		break
	}
}

func TestFlushSuppressesHallucinatedResult(t *testing.T) {
	profile := ProfileByName("current_default")
	profile.VADSilenceDurationS = 0.05
	l := newTestLoop(t, profile, &fakeTranscriber{text: "Thanks for watching!"})
	ctx := context.Background()

	l.processFrame(ctx, loudFrame(640))
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && l.currentState() != StateIdle {
		l.processFrame(ctx, silentFrame(640))
	}

	select {
	case e := <-l.Outbound():
		t.Fatalf("expected no transcription for a canned hallucination phrase, got %s", e.Type)
	default:
	}
}

func TestHeartbeatSkippedWhenDisconnected(t *testing.T) {
	l := newTestLoop(t, ProfileByName("current_default"), &fakeTranscriber{})
	l.SetConnected(false)
	l.maybeSendHeartbeat()
	select {
	case e := <-l.Outbound():
		t.Fatalf("expected no heartbeat while disconnected, got %s", e.Type)
	default:
	}
}

func TestHeartbeatSentWhenConnectedAndDue(t *testing.T) {
	l := newTestLoop(t, ProfileByName("current_default"), &fakeTranscriber{})
	l.SetConnected(true)
	l.maybeSendHeartbeat()
	select {
	case e := <-l.Outbound():
		if e.Type != "stt.heartbeat" {
			t.Fatalf("expected stt.heartbeat, got %s", e.Type)
		}
	default:
		t.Fatal("expected a heartbeat to be emitted")
	}
}
