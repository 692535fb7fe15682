package buffering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Vipatra/awaaz/internal/config"
	"github.com/Vipatra/awaaz/internal/engine"
	"github.com/Vipatra/awaaz/internal/metrics"
	"github.com/Vipatra/awaaz/internal/pool"
	"github.com/Vipatra/awaaz/internal/session"
)

// ErrNotRealtime indicates the service cannot keep up with the incoming
// audio rate under the fail overload policy.
var ErrNotRealtime = errors.New("buffering: processing is falling behind real time")

// TranscriptMessage is the payload emitted to the client for each
// finalized segment.
type TranscriptMessage struct {
	engine.Transcription
	ProcessingTime string  `json:"processing_time"`
	AudioDuration  float64 `json:"audio_duration"`
}

// Emitter delivers transcript messages back to the client.
type Emitter interface {
	EmitTranscript(msg *TranscriptMessage) error
}

// Deps are the collaborators a strategy operates on.
type Deps struct {
	Session *session.Session
	Pool    *pool.Pool
	VAD     engine.VAD
	Emitter Emitter
	Sink    metrics.Sink
	Logger  *slog.Logger
	// OnDrop is called when a chunk is discarded under the drop policy.
	OnDrop func()
}

// Strategy implements silence-at-end-of-chunk buffering. Audio accumulates
// in the session live buffer until a chunk length is reached, then moves to
// the scratch buffer for voice detection and transcription. At most one
// processing pass runs per session at a time.
type Strategy struct {
	cfg  config.BufferingConfig
	deps Deps

	processing atomic.Bool
	wg         sync.WaitGroup
}

// New creates a strategy bound to a single session.
func New(cfg config.BufferingConfig, deps Deps) (*Strategy, error) {
	if deps.Session == nil || deps.Pool == nil || deps.VAD == nil || deps.Emitter == nil {
		return nil, fmt.Errorf("session, pool, vad and emitter are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid buffering config: %w", err)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Strategy{cfg: cfg, deps: deps}, nil
}

// Process checks the live buffer and, when enough audio has accumulated,
// starts an asynchronous processing pass. It must be called from the
// session's receive loop and never blocks on transcription.
//
// With the fail policy, ErrNotRealtime is returned when audio arrives
// faster than the previous pass can complete.
func (s *Strategy) Process(ctx context.Context) error {
	sess := s.deps.Session

	threshold := s.cfg.ChunkLengthBytes(sess.SamplingRate, sess.SampleWidth)
	if sess.LiveLen() <= threshold {
		return nil
	}

	if s.processing.Load() {
		if s.cfg.OverloadPolicy == config.PolicyFail {
			return ErrNotRealtime
		}

		s.deps.Logger.Warn("Dropping audio chunk, previous pass still running",
			slog.String("session_id", sess.ID),
			slog.Int("dropped_bytes", sess.LiveLen()))
		sess.DropLive()
		if s.deps.OnDrop != nil {
			s.deps.OnDrop()
		}
		return nil
	}

	s.processing.Store(true)
	sess.MoveLiveToScratch()

	s.wg.Add(1)
	go s.finalize(ctx)
	return nil
}

// Wait blocks until any in-flight processing pass has finished.
func (s *Strategy) Wait() {
	s.wg.Wait()
}

func (s *Strategy) finalize(ctx context.Context) {
	defer s.wg.Done()
	defer s.processing.Store(false)

	sess := s.deps.Session
	logger := s.deps.Logger
	start := time.Now()

	aud := engine.Audio{
		PCM:         sess.ScratchSnapshot(),
		SampleRate:  sess.SamplingRate,
		SampleWidth: sess.SampleWidth,
		Language:    sess.Language(),
		Name:        sess.NextScratchFilename(),
	}

	segments, err := s.deps.VAD.DetectActivity(ctx, aud)
	if err != nil {
		// Scratch is kept so the audio is retried on the next pass.
		logger.Error("Voice activity detection failed",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()))
		return
	}

	if len(segments) == 0 {
		logger.Debug("No speech detected, discarding chunk",
			slog.String("session_id", sess.ID),
			slog.Float64("duration", aud.DurationSeconds()))
		sess.ClearScratch()
		sess.DropLive()
		return
	}

	// Finalize only once speech has stopped: the last detected segment
	// must end before the quiet tail at the end of the chunk.
	cutoff := aud.DurationSeconds() - s.cfg.ChunkOffsetSeconds
	if segments[len(segments)-1].End >= cutoff {
		return
	}

	eng, err := s.deps.Pool.Acquire(ctx)
	if err != nil {
		logger.Error("Failed to acquire transcription engine",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()))
		return
	}

	result, err := eng.Transcribe(ctx, aud)
	s.deps.Pool.Release(eng)

	if err != nil {
		logger.Error("Transcription failed",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()))
		sess.ClearScratch()
		return
	}

	elapsed := time.Since(start).Seconds()

	if result.Text != "" {
		msg := &TranscriptMessage{
			Transcription:  *result,
			ProcessingTime: fmt.Sprintf("%.4f", elapsed),
			AudioDuration:  aud.DurationSeconds(),
		}
		if err := s.deps.Emitter.EmitTranscript(msg); err != nil {
			logger.Error("Failed to emit transcript",
				slog.String("session_id", sess.ID),
				slog.String("error", err.Error()))
		}
		s.publishSamples(result.Text, elapsed, aud.DurationSeconds())
	}

	sess.ClearScratch()
	sess.IncrementSegmentCounter()
}

func (s *Strategy) publishSamples(text string, elapsed, audioDuration float64) {
	if s.deps.Sink == nil {
		return
	}

	s.deps.Sink.Publish(metrics.SampleChunkProcessingTime, elapsed)
	s.deps.Sink.Publish(metrics.SampleTranscriptionLength, float64(len(text)))
	if audioDuration > 0 {
		s.deps.Sink.Publish(metrics.SampleTranscriptionSpeed, float64(len(text))/audioDuration)
		s.deps.Sink.Publish(metrics.SampleProcessingEfficiency, elapsed/audioDuration)
	}
}
