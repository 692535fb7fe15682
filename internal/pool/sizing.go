package pool

import (
	"fmt"
	"log/slog"
	"math"
)

// Fraction of free accelerator memory the pool is allowed to claim. The
// remainder is left for other processes sharing the device.
const memorySafetyMargin = 0.8

// MemoryProber reports accelerator memory usage.
type MemoryProber interface {
	// FreeBytes returns the amount of free accelerator memory.
	FreeBytes() (uint64, error)
	// UsedBytes returns the amount of accelerator memory in use.
	UsedBytes() (uint64, error)
}

// ComputeSize derives the engine pool capacity from available accelerator
// memory and the footprint of one engine instance. Introspection failure
// degrades to a capacity of 1 rather than failing startup; a non-positive
// footprint is a configuration error and fails fast.
func ComputeSize(prober MemoryProber, perEngineBytes int64, logger *slog.Logger) (int, error) {
	if perEngineBytes <= 0 {
		return 0, fmt.Errorf("per-engine memory footprint must be positive, got %d", perEngineBytes)
	}

	free, err := prober.FreeBytes()
	if err != nil {
		logger.Error("Failed to query accelerator memory, degrading pool size to 1",
			slog.String("error", err.Error()),
		)
		return 1, nil
	}

	usable := float64(free) * memorySafetyMargin
	size := int(math.Floor(usable / float64(perEngineBytes)))
	if size < 1 {
		size = 1
	}

	logger.Info("Computed engine pool size",
		slog.Uint64("free_memory_bytes", free),
		slog.Int64("per_engine_bytes", perEngineBytes),
		slog.Int("pool_size", size),
	)

	return size, nil
}
