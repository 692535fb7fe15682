package session

import (
	"fmt"
	"sync"
	"time"
)

// Recognized in-band configuration keys. Updates carrying other keys are
// merged key-by-key: recognized ones overwrite, the rest are ignored.
var recognizedConfigKeys = map[string]bool{
	"language": true,
}

// Session is the per-connection state of one audio stream. The audio format
// is fixed at connect time; buffers and counters are guarded by a mutex
// because the finalize pass and the metrics collaborator read them
// concurrently with the connection's receive loop.
type Session struct {
	ID           string
	SamplingRate int
	SampleWidth  int
	CreatedAt    time.Time

	mu             sync.Mutex
	liveBuffer     []byte
	scratchBuffer  []byte
	config         map[string]any
	segmentCounter int
	totalSamples   int64
}

// Info is a read-only snapshot of a session for monitoring APIs.
type Info struct {
	ID            string    `json:"id"`
	SamplingRate  int       `json:"sampling_rate"`
	SampleWidth   int       `json:"sample_width"`
	CreatedAt     time.Time `json:"created_at"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Segments      int       `json:"segments"`
	TotalSamples  int64     `json:"total_samples"`
	AudioDuration float64   `json:"audio_duration_seconds"`
	LiveBytes     int       `json:"live_buffer_bytes"`
	ScratchBytes  int       `json:"scratch_buffer_bytes"`
}

// New creates a session with the audio format fixed for its lifetime.
func New(id string, samplingRate, sampleWidth int) *Session {
	return &Session{
		ID:           id,
		SamplingRate: samplingRate,
		SampleWidth:  sampleWidth,
		CreatedAt:    time.Now(),
		config:       make(map[string]any),
	}
}

// AppendAudio appends raw PCM bytes to the live buffer. It always succeeds.
func (s *Session) AppendAudio(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.liveBuffer = append(s.liveBuffer, data...)
	s.totalSamples += int64(len(data) / s.SampleWidth)
}

// UpdateConfig merges recognized keys from an in-band config message.
// Unknown keys are ignored, not rejected.
func (s *Session) UpdateConfig(data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		if recognizedConfigKeys[key] {
			s.config[key] = value
		}
	}
}

// Config returns a copy of the current session configuration.
func (s *Session) Config() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]any, len(s.config))
	for k, v := range s.config {
		out[k] = v
	}
	return out
}

// Language returns the configured transcription language, if any.
func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lang, ok := s.config["language"].(string); ok {
		return lang
	}
	return ""
}

// LiveLen returns the current live buffer length in bytes.
func (s *Session) LiveLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.liveBuffer)
}

// ScratchLen returns the current scratch buffer length in bytes.
func (s *Session) ScratchLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scratchBuffer)
}

// MoveLiveToScratch appends the entire live buffer onto the scratch buffer
// and clears the live buffer, atomically. The two buffers never share bytes.
func (s *Session) MoveLiveToScratch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scratchBuffer = append(s.scratchBuffer, s.liveBuffer...)
	s.liveBuffer = s.liveBuffer[:0]
}

// DropLive discards the live buffer contents.
func (s *Session) DropLive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveBuffer = s.liveBuffer[:0]
}

// ScratchSnapshot returns a copy of the scratch buffer for an engine call.
func (s *Session) ScratchSnapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, len(s.scratchBuffer))
	copy(out, s.scratchBuffer)
	return out
}

// ClearScratch discards the scratch buffer contents.
func (s *Session) ClearScratch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scratchBuffer = s.scratchBuffer[:0]
}

// IncrementSegmentCounter records the completion of one finalized segment.
func (s *Session) IncrementSegmentCounter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segmentCounter++
}

// SegmentCounter returns the number of finalized segments so far.
func (s *Session) SegmentCounter() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segmentCounter
}

// TotalSamples returns the number of samples appended over the session's
// lifetime.
func (s *Session) TotalSamples() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSamples
}

// AudioDurationSeconds returns the total duration of audio received.
func (s *Session) AudioDurationSeconds() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SamplingRate <= 0 {
		return 0
	}
	return float64(s.totalSamples) / float64(s.SamplingRate)
}

// NextScratchFilename returns the file name to use when an engine needs the
// current scratch buffer materialized on disk or named in an upload.
func (s *Session) NextScratchFilename() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%s_%d.wav", s.ID, s.segmentCounter)
}

// GetInfo returns a monitoring snapshot of the session.
func (s *Session) GetInfo() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	duration := float64(0)
	if s.SamplingRate > 0 {
		duration = float64(s.totalSamples) / float64(s.SamplingRate)
	}

	return Info{
		ID:            s.ID,
		SamplingRate:  s.SamplingRate,
		SampleWidth:   s.SampleWidth,
		CreatedAt:     s.CreatedAt,
		UptimeSeconds: time.Since(s.CreatedAt).Seconds(),
		Segments:      s.segmentCounter,
		TotalSamples:  s.totalSamples,
		AudioDuration: duration,
		LiveBytes:     len(s.liveBuffer),
		ScratchBytes:  len(s.scratchBuffer),
	}
}
