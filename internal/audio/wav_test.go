package audio

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestEncodeWAVHeader(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}

	data, err := EncodeWAV(pcm, 16000, 2)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if len(data) != 44+len(pcm) {
		t.Fatalf("Expected %d bytes, got %d", 44+len(pcm), len(data))
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		t.Fatalf("Failed to read header back: %v", err)
	}

	if string(header.ChunkID[:]) != "RIFF" {
		t.Errorf("Expected RIFF chunk id, got %q", header.ChunkID)
	}
	if string(header.Format[:]) != "WAVE" {
		t.Errorf("Expected WAVE format, got %q", header.Format)
	}
	if header.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", header.SampleRate)
	}
	if header.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", header.BitsPerSample)
	}
	if header.NumChannels != 1 {
		t.Errorf("Expected mono, got %d channels", header.NumChannels)
	}
	if header.Subchunk2Size != uint32(len(pcm)) {
		t.Errorf("Expected data size %d, got %d", len(pcm), header.Subchunk2Size)
	}

	if !bytes.Equal(data[44:], pcm) {
		t.Error("PCM payload not preserved after header")
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	tests := []struct {
		name        string
		pcm         []byte
		sampleRate  int
		sampleWidth int
	}{
		{"empty buffer", nil, 16000, 2},
		{"zero sample rate", []byte{1, 2}, 0, 2},
		{"bad sample width", []byte{1, 2}, 16000, 3},
		{"misaligned length", []byte{1, 2, 3}, 16000, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeWAV(tt.pcm, tt.sampleRate, tt.sampleWidth); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestSaveWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")

	if err := SaveWAV(path, []byte{1, 2, 3, 4}, 8000, 2); err != nil {
		t.Fatalf("SaveWAV failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read written file: %v", err)
	}
	if len(data) != 48 {
		t.Errorf("Expected 48 bytes on disk, got %d", len(data))
	}
}
