package engine

import (
	"context"
	"encoding/json"
	"testing"
)

type nopVAD struct{}

func (nopVAD) DetectActivity(_ context.Context, _ Audio) ([]SpeechSegment, error) {
	return nil, nil
}

func TestRegistryCreate(t *testing.T) {
	reg := NewRegistry[VAD]()
	reg.Register("nop", func(args json.RawMessage) (VAD, error) {
		return nopVAD{}, nil
	})

	v, err := reg.Create("nop", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if v == nil {
		t.Fatal("Create returned nil engine")
	}
}

func TestRegistryUnknownBackend(t *testing.T) {
	reg := NewRegistry[VAD]()

	_, err := reg.Create("missing", nil)
	if err == nil {
		t.Fatal("Expected error for unknown backend, got nil")
	}
}

func TestRegistryHasAndList(t *testing.T) {
	reg := NewRegistry[VAD]()
	reg.Register("b", func(json.RawMessage) (VAD, error) { return nopVAD{}, nil })
	reg.Register("a", func(json.RawMessage) (VAD, error) { return nopVAD{}, nil })

	if !reg.Has("a") {
		t.Error("Expected Has(\"a\") to be true")
	}
	if reg.Has("c") {
		t.Error("Expected Has(\"c\") to be false")
	}

	names := reg.List()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Expected sorted names [a b], got %v", names)
	}
}

func TestAudioDurationSeconds(t *testing.T) {
	tests := []struct {
		name     string
		audio    Audio
		expected float64
	}{
		{"one second at 16kHz", Audio{PCM: make([]byte, 32000), SampleRate: 16000, SampleWidth: 2}, 1.0},
		{"half second at 8kHz", Audio{PCM: make([]byte, 8000), SampleRate: 8000, SampleWidth: 2}, 0.5},
		{"zero sample rate", Audio{PCM: make([]byte, 100), SampleRate: 0, SampleWidth: 2}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.audio.DurationSeconds(); got != tt.expected {
				t.Errorf("DurationSeconds() = %f, want %f", got, tt.expected)
			}
		})
	}
}
