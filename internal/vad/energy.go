package vad

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/Vipatra/awaaz/internal/engine"
)

func init() {
	engine.VADRegistry.Register("energy", func(args json.RawMessage) (engine.VAD, error) {
		return NewEnergyDetector(args)
	})
}

// EnergyConfig holds tuning parameters for the energy detector.
type EnergyConfig struct {
	// Threshold is the RMS amplitude above which a window counts as speech.
	Threshold float64 `json:"threshold"`
	// WindowMs is the analysis window length in milliseconds.
	WindowMs int `json:"window_ms"`
	// MinSpeechMs discards voiced runs shorter than this.
	MinSpeechMs int `json:"min_speech_ms"`
	// MinSilenceMs merges voiced runs separated by gaps shorter than this.
	MinSilenceMs int `json:"min_silence_ms"`
}

// DefaultEnergyConfig returns the detector defaults tuned for 16 kHz speech.
func DefaultEnergyConfig() EnergyConfig {
	return EnergyConfig{
		Threshold:    500,
		WindowMs:     30,
		MinSpeechMs:  100,
		MinSilenceMs: 300,
	}
}

// Validate checks the configuration for invalid values.
func (c *EnergyConfig) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive, got %f", c.Threshold)
	}
	if c.WindowMs <= 0 {
		return fmt.Errorf("window_ms must be positive, got %d", c.WindowMs)
	}
	if c.MinSpeechMs < 0 {
		return fmt.Errorf("min_speech_ms must be non-negative, got %d", c.MinSpeechMs)
	}
	if c.MinSilenceMs < 0 {
		return fmt.Errorf("min_silence_ms must be non-negative, got %d", c.MinSilenceMs)
	}
	return nil
}

// EnergyDetector finds speech regions by windowed RMS energy over 16-bit PCM.
type EnergyDetector struct {
	cfg EnergyConfig
}

// NewEnergyDetector creates a detector from raw JSON arguments.
// Absent fields keep their defaults.
func NewEnergyDetector(args json.RawMessage) (*EnergyDetector, error) {
	cfg := DefaultEnergyConfig()
	if len(args) > 0 {
		if err := json.Unmarshal(args, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse energy detector args: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid energy detector config: %w", err)
	}
	return &EnergyDetector{cfg: cfg}, nil
}

// DetectActivity scans the audio and returns ordered speech segments.
func (d *EnergyDetector) DetectActivity(ctx context.Context, audio engine.Audio) ([]engine.SpeechSegment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if audio.SampleWidth != 2 {
		return nil, fmt.Errorf("energy detector requires 16-bit samples, got width %d", audio.SampleWidth)
	}
	if audio.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", audio.SampleRate)
	}

	samples := decodePCM16(audio.PCM)
	if len(samples) == 0 {
		return nil, nil
	}

	windowSamples := audio.SampleRate * d.cfg.WindowMs / 1000
	if windowSamples < 1 {
		windowSamples = 1
	}

	voiced := make([]bool, 0, len(samples)/windowSamples+1)
	for start := 0; start < len(samples); start += windowSamples {
		end := start + windowSamples
		if end > len(samples) {
			end = len(samples)
		}
		voiced = append(voiced, rmsEnergy(samples[start:end]) >= d.cfg.Threshold)
	}

	windowSec := float64(windowSamples) / float64(audio.SampleRate)
	totalSec := float64(len(samples)) / float64(audio.SampleRate)

	segments := mergeWindows(voiced, windowSec, float64(d.cfg.MinSilenceMs)/1000)

	minSpeech := float64(d.cfg.MinSpeechMs) / 1000
	result := make([]engine.SpeechSegment, 0, len(segments))
	for _, seg := range segments {
		if seg.End > totalSec {
			seg.End = totalSec
		}
		if seg.End-seg.Start < minSpeech {
			continue
		}
		result = append(result, seg)
	}
	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}

func decodePCM16(pcm []byte) []int16 {
	n := len(pcm) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

func rmsEnergy(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// mergeWindows groups consecutive voiced windows into segments, bridging
// silence gaps shorter than minSilenceSec.
func mergeWindows(voiced []bool, windowSec, minSilenceSec float64) []engine.SpeechSegment {
	var segments []engine.SpeechSegment
	inSpeech := false
	var start float64

	for i, v := range voiced {
		t := float64(i) * windowSec
		if v && !inSpeech {
			inSpeech = true
			start = t
		} else if !v && inSpeech {
			inSpeech = false
			segments = append(segments, engine.SpeechSegment{Start: start, End: t, Confidence: 1.0})
		}
	}
	if inSpeech {
		segments = append(segments, engine.SpeechSegment{Start: start, End: float64(len(voiced)) * windowSec, Confidence: 1.0})
	}

	if len(segments) < 2 || minSilenceSec <= 0 {
		return segments
	}

	merged := segments[:1]
	for _, seg := range segments[1:] {
		last := &merged[len(merged)-1]
		if seg.Start-last.End < minSilenceSec {
			last.End = seg.End
		} else {
			merged = append(merged, seg)
		}
	}
	return merged
}
