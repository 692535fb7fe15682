package buffering

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/Vipatra/awaaz/internal/config"
	"github.com/Vipatra/awaaz/internal/engine"
	"github.com/Vipatra/awaaz/internal/pool"
	"github.com/Vipatra/awaaz/internal/session"
)

const (
	testRate  = 1000
	testWidth = 2
)

type fakeVAD struct {
	mu       sync.Mutex
	segments []engine.SpeechSegment
	err      error
	calls    int
}

func (v *fakeVAD) DetectActivity(ctx context.Context, a engine.Audio) ([]engine.SpeechSegment, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	return v.segments, v.err
}

func (v *fakeVAD) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

type fakeASR struct {
	mu     sync.Mutex
	result *engine.Transcription
	err    error
	block  chan struct{}
	calls  int
	names  []string
}

func (a *fakeASR) Transcribe(ctx context.Context, aud engine.Audio) (*engine.Transcription, error) {
	a.mu.Lock()
	a.calls++
	a.names = append(a.names, aud.Name)
	block := a.block
	a.mu.Unlock()

	if block != nil {
		<-block
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result, a.err
}

func (a *fakeASR) Close() error { return nil }

func (a *fakeASR) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type fakeEmitter struct {
	mu   sync.Mutex
	msgs []*TranscriptMessage
	err  error
}

func (e *fakeEmitter) EmitTranscript(msg *TranscriptMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msgs = append(e.msgs, msg)
	return e.err
}

func (e *fakeEmitter) messages() []*TranscriptMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*TranscriptMessage(nil), e.msgs...)
}

type recordingSink struct {
	mu      sync.Mutex
	samples map[string]float64
}

func (s *recordingSink) Publish(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.samples == nil {
		s.samples = make(map[string]float64)
	}
	s.samples[name] = value
}

type harness struct {
	sess    *session.Session
	pool    *pool.Pool
	vad     *fakeVAD
	asr     *fakeASR
	emitter *fakeEmitter
	sink    *recordingSink
	strat   *Strategy
	drops   int
}

func newHarness(t *testing.T, cfg config.BufferingConfig) *harness {
	t.Helper()

	h := &harness{
		sess:    session.New("test-session", testRate, testWidth),
		vad:     &fakeVAD{},
		asr:     &fakeASR{result: &engine.Transcription{Text: "hello"}},
		emitter: &fakeEmitter{},
		sink:    &recordingSink{},
	}

	p, err := pool.New(1, func() (engine.ASR, error) { return h.asr, nil })
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	h.pool = p

	strat, err := New(cfg, Deps{
		Session: h.sess,
		Pool:    h.pool,
		VAD:     h.vad,
		Emitter: h.emitter,
		Sink:    h.sink,
		OnDrop:  func() { h.drops++ },
	})
	if err != nil {
		t.Fatalf("Failed to create strategy: %v", err)
	}
	h.strat = strat
	return h
}

func defaultConfig() config.BufferingConfig {
	return config.BufferingConfig{
		ChunkLengthSeconds: 1.0,
		ChunkOffsetSeconds: 0.5,
		OverloadPolicy:     config.PolicyDrop,
	}
}

// secondsOfAudio returns n seconds of PCM at the test format.
func secondsOfAudio(n float64) []byte {
	return make([]byte, int(n*testRate*testWidth))
}

func TestProcessBelowThreshold(t *testing.T) {
	h := newHarness(t, defaultConfig())

	h.sess.AppendAudio(secondsOfAudio(0.5))
	if err := h.strat.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	h.strat.Wait()

	if h.vad.callCount() != 0 {
		t.Error("Expected no processing pass below the chunk threshold")
	}
	if h.sess.LiveLen() == 0 {
		t.Error("Expected live buffer to keep accumulating")
	}
}

func TestProcessEmitsTranscript(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.vad.segments = []engine.SpeechSegment{{Start: 0.1, End: 0.4, Confidence: 1}}

	h.sess.AppendAudio(secondsOfAudio(1.1))
	if err := h.strat.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	h.strat.Wait()

	msgs := h.emitter.messages()
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 transcript, got %d", len(msgs))
	}
	if msgs[0].Text != "hello" {
		t.Errorf("Expected text 'hello', got %q", msgs[0].Text)
	}
	if msgs[0].ProcessingTime == "" {
		t.Error("Expected processing time to be set")
	}
	if msgs[0].AudioDuration < 1.0 {
		t.Errorf("Expected audio duration >= 1.0s, got %f", msgs[0].AudioDuration)
	}

	if h.sess.ScratchLen() != 0 {
		t.Error("Expected scratch to be cleared after finalization")
	}
	if h.sess.SegmentCounter() != 1 {
		t.Errorf("Expected segment counter 1, got %d", h.sess.SegmentCounter())
	}

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	for _, name := range []string{"ChunkProcessingTime", "TranscriptionLength", "TranscriptionSpeed", "ProcessingEfficiency"} {
		if _, ok := h.sink.samples[name]; !ok {
			t.Errorf("Expected sample %q to be published", name)
		}
	}
}

func TestPublishedSampleValues(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.vad.segments = []engine.SpeechSegment{{Start: 0.1, End: 0.4}}
	h.asr.block = make(chan struct{})

	// 1.1s of audio, with the engine call held open so the pass takes a
	// known minimum time.
	h.sess.AppendAudio(secondsOfAudio(1.1))
	if err := h.strat.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	close(h.asr.block)
	h.strat.Wait()

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()

	const audioDuration = 1.1

	if got := h.sink.samples["TranscriptionLength"]; got != 5 {
		t.Errorf("Expected transcription length 5, got %f", got)
	}

	// Speed is characters per second of audio, not of processing time.
	wantSpeed := 5.0 / audioDuration
	if got := h.sink.samples["TranscriptionSpeed"]; math.Abs(got-wantSpeed) > 1e-9 {
		t.Errorf("Expected transcription speed %f, got %f", wantSpeed, got)
	}

	elapsed := h.sink.samples["ChunkProcessingTime"]
	if elapsed < 0.1 {
		t.Fatalf("Expected processing time of at least 0.1s, got %f", elapsed)
	}

	// Efficiency is processing time over audio duration, below 1 while
	// the service keeps up with real time.
	wantEfficiency := elapsed / audioDuration
	if got := h.sink.samples["ProcessingEfficiency"]; math.Abs(got-wantEfficiency) > 1e-9 {
		t.Errorf("Expected processing efficiency %f, got %f", wantEfficiency, got)
	}
	if got := h.sink.samples["ProcessingEfficiency"]; got >= 1 {
		t.Errorf("Expected efficiency below 1 for a fast pass, got %f", got)
	}
}

func TestProcessUsesScratchFilename(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.vad.segments = []engine.SpeechSegment{{Start: 0.1, End: 0.4}}

	h.sess.AppendAudio(secondsOfAudio(1.1))
	if err := h.strat.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	h.strat.Wait()

	h.asr.mu.Lock()
	defer h.asr.mu.Unlock()
	if len(h.asr.names) != 1 || h.asr.names[0] != "test-session_0.wav" {
		t.Errorf("Expected engine to receive segment filename, got %v", h.asr.names)
	}
}

func TestProcessDiscardsSilence(t *testing.T) {
	h := newHarness(t, defaultConfig())

	h.sess.AppendAudio(secondsOfAudio(1.1))
	if err := h.strat.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	h.strat.Wait()

	if h.sess.ScratchLen() != 0 {
		t.Error("Expected scratch cleared for a silent chunk")
	}
	if h.sess.LiveLen() != 0 {
		t.Error("Expected live buffer dropped for a silent chunk")
	}
	if h.asr.callCount() != 0 {
		t.Error("Expected no transcription for a silent chunk")
	}

	// The processing flag must be reset so the next chunk triggers a pass.
	h.vad.segments = []engine.SpeechSegment{{Start: 0.1, End: 0.4}}
	h.sess.AppendAudio(secondsOfAudio(1.1))
	if err := h.strat.Process(context.Background()); err != nil {
		t.Fatalf("Second Process failed: %v", err)
	}
	h.strat.Wait()

	if h.asr.callCount() != 1 {
		t.Errorf("Expected transcription after silent pass, got %d calls", h.asr.callCount())
	}
}

func TestProcessWaitsForTrailingSilence(t *testing.T) {
	h := newHarness(t, defaultConfig())

	// Speech runs to 0.9s in a ~1.1s chunk, inside the 0.5s quiet tail.
	h.vad.segments = []engine.SpeechSegment{{Start: 0.1, End: 0.9}}
	h.sess.AppendAudio(secondsOfAudio(1.1))
	if err := h.strat.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	h.strat.Wait()

	if h.asr.callCount() != 0 {
		t.Error("Expected no transcription while speech continues")
	}
	if h.sess.ScratchLen() == 0 {
		t.Error("Expected scratch kept while speech continues")
	}
	if h.sess.SegmentCounter() != 0 {
		t.Error("Expected segment counter unchanged")
	}

	// More audio arrives and speech has now stopped well before the tail.
	h.vad.segments = []engine.SpeechSegment{{Start: 0.1, End: 0.9}}
	h.sess.AppendAudio(secondsOfAudio(1.1))
	if err := h.strat.Process(context.Background()); err != nil {
		t.Fatalf("Second Process failed: %v", err)
	}
	h.strat.Wait()

	if h.asr.callCount() != 1 {
		t.Errorf("Expected transcription once speech stopped, got %d calls", h.asr.callCount())
	}
}

func TestProcessDropPolicy(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.vad.segments = []engine.SpeechSegment{{Start: 0.1, End: 0.4}}
	h.asr.block = make(chan struct{})

	h.sess.AppendAudio(secondsOfAudio(1.1))
	if err := h.strat.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// Wait until the pass is inside the engine call.
	deadline := time.Now().Add(time.Second)
	for h.asr.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	h.sess.AppendAudio(secondsOfAudio(1.1))
	if err := h.strat.Process(context.Background()); err != nil {
		t.Fatalf("Process during overload failed: %v", err)
	}

	if h.sess.LiveLen() != 0 {
		t.Error("Expected live buffer dropped under the drop policy")
	}
	if h.drops != 1 {
		t.Errorf("Expected 1 drop callback, got %d", h.drops)
	}

	close(h.asr.block)
	h.strat.Wait()
}

func TestProcessFailPolicy(t *testing.T) {
	cfg := defaultConfig()
	cfg.OverloadPolicy = config.PolicyFail
	h := newHarness(t, cfg)
	h.vad.segments = []engine.SpeechSegment{{Start: 0.1, End: 0.4}}
	h.asr.block = make(chan struct{})

	h.sess.AppendAudio(secondsOfAudio(1.1))
	if err := h.strat.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for h.asr.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	h.sess.AppendAudio(secondsOfAudio(1.1))
	err := h.strat.Process(context.Background())
	if !errors.Is(err, ErrNotRealtime) {
		t.Errorf("Expected ErrNotRealtime, got %v", err)
	}

	close(h.asr.block)
	h.strat.Wait()
}

func TestProcessReleasesEngineOnFailure(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.vad.segments = []engine.SpeechSegment{{Start: 0.1, End: 0.4}}
	h.asr.result = nil
	h.asr.err = errors.New("engine crashed")

	h.sess.AppendAudio(secondsOfAudio(1.1))
	if err := h.strat.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	h.strat.Wait()

	if h.pool.Available() != h.pool.Capacity() {
		t.Error("Expected engine returned to pool after a failed transcription")
	}
	if len(h.emitter.messages()) != 0 {
		t.Error("Expected no transcript on engine failure")
	}
	if h.sess.ScratchLen() != 0 {
		t.Error("Expected scratch cleared after a failed transcription")
	}
}

func TestProcessKeepsScratchOnVADError(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.vad.err = errors.New("vad unavailable")

	h.sess.AppendAudio(secondsOfAudio(1.1))
	if err := h.strat.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	h.strat.Wait()

	if h.sess.ScratchLen() == 0 {
		t.Error("Expected scratch kept for retry after a VAD error")
	}
}

func TestProcessSkipsEmptyTranscript(t *testing.T) {
	h := newHarness(t, defaultConfig())
	h.vad.segments = []engine.SpeechSegment{{Start: 0.1, End: 0.4}}
	h.asr.result = &engine.Transcription{Text: ""}

	h.sess.AppendAudio(secondsOfAudio(1.1))
	if err := h.strat.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	h.strat.Wait()

	if len(h.emitter.messages()) != 0 {
		t.Error("Expected no emission for an empty transcript")
	}
	if h.sess.SegmentCounter() != 1 {
		t.Error("Expected segment counter to advance even without text")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	h := newHarness(t, defaultConfig())

	if _, err := New(config.BufferingConfig{ChunkLengthSeconds: 0}, Deps{
		Session: h.sess, Pool: h.pool, VAD: h.vad, Emitter: h.emitter,
	}); err == nil {
		t.Error("Expected error for zero chunk length")
	}

	if _, err := New(defaultConfig(), Deps{}); err == nil {
		t.Error("Expected error for missing collaborators")
	}
}
