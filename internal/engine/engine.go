package engine

import (
	"context"
)

// Audio is a snapshot of buffered PCM audio handed to an engine call.
// PCM holds raw little-endian samples; Name is a suggested file name for
// backends that materialize or upload the audio.
type Audio struct {
	PCM         []byte
	SampleRate  int
	SampleWidth int
	Language    string
	Name        string
}

// DurationSeconds returns the length of the audio in seconds.
func (a Audio) DurationSeconds() float64 {
	if a.SampleRate <= 0 || a.SampleWidth <= 0 {
		return 0
	}
	return float64(len(a.PCM)) / float64(a.SampleRate*a.SampleWidth)
}

// SpeechSegment is a time range judged to contain speech, with offsets in
// seconds from the start of the analyzed audio.
type SpeechSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// TranscriptSegment is a timed piece of a transcription.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcription is the result of a speech recognition call.
type Transcription struct {
	Text     string              `json:"text"`
	Language string              `json:"language,omitempty"`
	Segments []TranscriptSegment `json:"segments,omitempty"`
}

// VAD detects speech activity in buffered audio.
type VAD interface {
	// DetectActivity returns the ordered speech segments found in the audio.
	// An empty slice means the audio contains no speech.
	DetectActivity(ctx context.Context, audio Audio) ([]SpeechSegment, error)
}

// ASR transcribes buffered audio. Implementations may hold expensive
// resources; Close releases them.
type ASR interface {
	Transcribe(ctx context.Context, audio Audio) (*Transcription, error)
	Close() error
}
