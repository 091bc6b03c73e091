package sttloop

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"github.com/ctxlens/backend/internal/detector"
	"github.com/ctxlens/backend/internal/envelope"
	audioring "github.com/ctxlens/backend/pkg/io/stt/audioRing"
	"github.com/ctxlens/backend/pkg/Logger"
)

const (
	StateIdle     = "idle"
	StateSpeaking = "speaking"
	StateFlushing = "flushing"

	eventVoiceDetected  = "voice_detected"
	eventSilenceTimeout = "silence_timeout"
	eventFlushDone      = "flush_done"
)

// defaultSampleRate is assumed when a frame carries no sample rate, per
// the spec's "16 kHz mono float32" stream assumption.
const defaultSampleRate = 16000

// idleRingCapacityBytes bounds the Idle-state rolling silence buffer.
// Sized generously above what VADBufferDurationS needs at 16kHz mono
// float32 framing overhead; the ring itself drops the oldest frame
// first on overflow so an undersized budget degrades gracefully.
const idleRingCapacityBytes = 256 * 1024

// Transcriber is the subset of whisper.WhisperClient the loop calls
// into; a narrow interface so tests can fake it.
type Transcriber interface {
	TranscribeAudio(ctx context.Context, frames []audioring.AudioInput) (*TranscriptionResult, error)
}

// TranscriptionResult mirrors whisper.TranscriptionResponse's fields
// the loop actually consumes, decoupling this package from whisper's
// full wire schema.
type TranscriptionResult struct {
	Text string
}

// Loop runs the VAD state machine (C11) for one client id.
type Loop struct {
	log         *Logger.Logger
	profile     Profile
	transcriber Transcriber
	clientID    string

	frames   chan audioring.AudioInput
	outbound chan *envelope.Envelope
	connected atomic.Bool

	mu           sync.Mutex
	machine      *fsm.FSM
	idleRing     audioring.AudioRingBuffer
	utterance    []audioring.AudioInput
	silenceStart time.Time
	lastChunkAt  time.Time
	lastChunkEnd int
	partials     []string

	lastTranscriptionMu sync.Mutex
	lastTranscriptionAt time.Time
}

func newMachine() *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventVoiceDetected, Src: []string{StateIdle}, Dst: StateSpeaking},
			{Name: eventSilenceTimeout, Src: []string{StateSpeaking}, Dst: StateFlushing},
			{Name: eventFlushDone, Src: []string{StateFlushing}, Dst: StateIdle},
		},
		fsm.Callbacks{},
	)
}

// NewLoop constructs a Loop bound to one client id and profile.
func NewLoop(log *Logger.Logger, profile Profile, clientID string, transcriber Transcriber) *Loop {
	return &Loop{
		log:         log,
		profile:     profile,
		transcriber: transcriber,
		clientID:    clientID,
		frames:      make(chan audioring.AudioInput, 1000),
		outbound:    make(chan *envelope.Envelope, 64),
		machine:     newMachine(),
		idleRing:    audioring.New(idleRingCapacityBytes),
	}
}

// Outbound is drained by the loop's reconnecting gateway client.
func (l *Loop) Outbound() <-chan *envelope.Envelope { return l.outbound }

// Requeue pushes e back onto the outbound channel, best-effort, for a
// client that failed mid-send to retry after reconnect.
func (l *Loop) Requeue(e *envelope.Envelope) {
	select {
	case l.outbound <- e:
	default:
		l.log.Warnf("sttloop: outbound buffer full, dropping requeued %s", e.Type)
	}
}

// SetConnected tracks socket liveness so heartbeats can be skipped
// silently while disconnected, per §4.11.
func (l *Loop) SetConnected(v bool) { l.connected.Store(v) }

// PushFrame enqueues one audio frame, dropping the oldest buffered
// frame on overflow rather than blocking the audio capture thread.
func (l *Loop) PushFrame(frame audioring.AudioInput) {
	select {
	case l.frames <- frame:
		return
	default:
	}
	select {
	case <-l.frames:
	default:
	}
	select {
	case l.frames <- frame:
	default:
		l.log.Warnf("sttloop: frame buffer full for %s, dropping frame", l.clientID)
	}
}

// Run drains the frame channel and a heartbeat ticker until cancelled.
func (l *Loop) Run(ctx context.Context) {
	heartbeat := time.NewTicker(time.Duration(l.profile.HeartbeatIntervalS * float64(time.Second)))
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-l.frames:
			l.processFrame(ctx, frame)
		case <-heartbeat.C:
			l.maybeSendHeartbeat()
		}
	}
}

func (l *Loop) currentState() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.machine.Current()
}

// processFrame implements the per-frame algorithm in §4.11.
func (l *Loop) processFrame(ctx context.Context, frame audioring.AudioInput) {
	energy := rms(frame)

	l.mu.Lock()
	switch l.machine.Current() {
	case StateIdle:
		_ = l.idleRing.Enqueue(frame)
		if energy > l.profile.VADEnergyThreshold {
			seed := lastChunkWithOverlap(l.idleRing.PeekN(10000), l.profile.VADBufferDurationS)
			l.utterance = append(append([]audioring.AudioInput{}, seed...), frame)
			l.lastChunkAt = time.Time{}
			l.lastChunkEnd = 0
			l.partials = nil
			l.silenceStart = time.Time{}
			_ = l.machine.Event(ctx, eventVoiceDetected)
			l.log.Debugf("sttloop: %s entering Speaking", l.clientID)
		}
		l.mu.Unlock()

	case StateSpeaking:
		l.utterance = append(l.utterance, frame)
		buffered := utteranceDuration(l.utterance)
		chunkDue := l.lastChunkAt.IsZero() ||
			time.Since(l.lastChunkAt) >= time.Duration(l.profile.StreamingChunkDurationS*float64(time.Second))
		if buffered >= l.profile.StreamingMinBufferS && chunkDue {
			chunk := lastChunkWithOverlap(l.utterance, l.profile.StreamingChunkDurationS+l.profile.StreamingOverlapS)
			l.lastChunkAt = time.Now()
			l.lastChunkEnd = len(l.utterance)
			snapshot := append([]audioring.AudioInput{}, chunk...)
			go l.transcribeInterim(ctx, snapshot)
		}

		silent := energy < l.profile.VADEnergyThreshold
		shouldFlush := false
		if silent {
			if l.silenceStart.IsZero() {
				l.silenceStart = time.Now()
			} else if time.Since(l.silenceStart) >= time.Duration(l.profile.VADSilenceDurationS*float64(time.Second)) {
				shouldFlush = true
			}
		} else {
			l.silenceStart = time.Time{}
		}
		l.mu.Unlock()

		if shouldFlush {
			l.mu.Lock()
			_ = l.machine.Event(ctx, eventSilenceTimeout)
			l.mu.Unlock()
			l.flush(ctx)
		}

	case StateFlushing:
		// A flush is in flight; frames arriving before flush_done are
		// dropped, matching the spec's single-utterance-at-a-time model.
		l.mu.Unlock()
	}
}

func (l *Loop) transcribeInterim(ctx context.Context, frames []audioring.AudioInput) {
	result, err := l.transcriber.TranscribeAudio(ctx, frames)
	if err != nil {
		l.log.Errorf("sttloop: interim transcription for %s: %v", l.clientID, err)
		return
	}
	text := strings.TrimSpace(result.Text)
	if text == "" || detector.IsHallucination(text) {
		return
	}

	l.mu.Lock()
	l.partials = append(l.partials, text)
	l.mu.Unlock()

	l.markTranscribed()
	l.send(envelope.New("stt.transcription.interim",
		envelope.WithClientID(l.clientID),
		envelope.WithPayload(map[string]any{"text": text}),
	))
}

// flush implements the Flushing-state consolidation rule in §4.11.
func (l *Loop) flush(ctx context.Context) {
	l.mu.Lock()
	utterance := append([]audioring.AudioInput{}, l.utterance...)
	partials := append([]string{}, l.partials...)
	lastChunkEnd := l.lastChunkEnd
	l.mu.Unlock()

	var trailing float64
	if lastChunkEnd < len(utterance) {
		trailing = utteranceDuration(utterance[lastChunkEnd:])
	}

	var finalText string
	switch {
	case len(partials) > 0 && trailing <= 0.5:
		finalText = strings.Join(partials, " ")
	case len(partials) > 0:
		if result, err := l.transcriber.TranscribeAudio(ctx, utterance); err != nil {
			l.log.Errorf("sttloop: final transcription for %s: %v", l.clientID, err)
			finalText = strings.Join(partials, " ")
		} else {
			finalText = result.Text
		}
	default:
		if result, err := l.transcriber.TranscribeAudio(ctx, utterance); err != nil {
			l.log.Errorf("sttloop: final transcription for %s: %v", l.clientID, err)
		} else {
			finalText = result.Text
		}
	}

	finalText = strings.TrimSpace(finalText)
	if finalText != "" && !detector.IsHallucination(finalText) &&
		len(strings.Fields(finalText)) >= l.profile.MinWordsPerSentence {
		l.markTranscribed()
		l.send(envelope.New("stt.transcription",
			envelope.WithClientID(l.clientID),
			envelope.WithPayload(map[string]any{"text": finalText}),
		))
	}

	l.mu.Lock()
	l.utterance = nil
	l.partials = nil
	l.lastChunkEnd = 0
	l.silenceStart = time.Time{}
	_ = l.machine.Event(ctx, eventFlushDone)
	l.mu.Unlock()
}

func (l *Loop) markTranscribed() {
	l.lastTranscriptionMu.Lock()
	l.lastTranscriptionAt = time.Now()
	l.lastTranscriptionMu.Unlock()
}

func (l *Loop) maybeSendHeartbeat() {
	if !l.connected.Load() {
		return
	}
	l.lastTranscriptionMu.Lock()
	last := l.lastTranscriptionAt
	l.lastTranscriptionMu.Unlock()

	if !last.IsZero() && time.Since(last) < time.Duration(l.profile.HeartbeatIntervalS*float64(time.Second)) {
		return
	}
	l.send(envelope.New("stt.heartbeat", envelope.WithClientID(l.clientID)))
}

func (l *Loop) send(e *envelope.Envelope) {
	select {
	case l.outbound <- e:
	default:
		l.log.Warnf("sttloop: outbound buffer full, dropping %s", e.Type)
	}
}

// rms computes root-mean-square energy over the frame's float32
// samples (§4.11: "16kHz mono float32"), already normalized to
// [-1, 1] on the wire, so no further scaling is needed.
func rms(frame audioring.AudioInput) float64 {
	n := frame.SampleCount()
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i < n; i++ {
		f := float64(frame.Sample(i))
		sumSquares += f * f
	}
	return math.Sqrt(sumSquares / float64(n))
}

func frameDuration(frame audioring.AudioInput) float64 {
	return frame.Duration(defaultSampleRate)
}

func utteranceDuration(frames []audioring.AudioInput) float64 {
	var total float64
	for _, f := range frames {
		total += frameDuration(f)
	}
	return total
}

// lastChunkWithOverlap returns the trailing subsequence of frames whose
// cumulative duration is at least seconds long.
func lastChunkWithOverlap(frames []audioring.AudioInput, seconds float64) []audioring.AudioInput {
	var acc float64
	start := len(frames)
	for start > 0 && acc < seconds {
		start--
		acc += frameDuration(frames[start])
	}
	return frames[start:]
}
