package metrics

import (
	"context"
	"log/slog"
	"time"
)

// Metric names published by the periodic loop and the pipeline.
const (
	SampleChunkProcessingTime  = "ChunkProcessingTime"
	SampleTranscriptionLength  = "TranscriptionLength"
	SampleTranscriptionSpeed   = "TranscriptionSpeed"
	SampleProcessingEfficiency = "ProcessingEfficiency"
	SampleGPUUtilizationMB     = "GPUUtilizationMB"
	SampleActiveConnections    = "ActiveWebSocketConnections"
	SampleAudioDuration        = "AudioDurationProcessed"
)

// Source exposes service-level gauges sampled by the publish loop.
type Source interface {
	ActiveConnections() int
	AudioDurationSeconds() float64
}

// MemoryUsage reports accelerator memory consumption.
type MemoryUsage interface {
	UsedBytes() (uint64, error)
}

// PublishLoop periodically samples the source and pushes readings to the
// sink until the context is cancelled. A nil prober skips the GPU sample.
func PublishLoop(ctx context.Context, sink Sink, src Source, prober MemoryUsage, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sink.Publish(SampleActiveConnections, float64(src.ActiveConnections()))
			sink.Publish(SampleAudioDuration, src.AudioDurationSeconds())

			if prober == nil {
				continue
			}
			used, err := prober.UsedBytes()
			if err != nil {
				logger.Warn("Failed to read accelerator memory", slog.String("error", err.Error()))
				continue
			}
			sink.Publish(SampleGPUUtilizationMB, float64(used)/(1<<20))
		}
	}
}
