package pool

import (
	"context"
	"fmt"

	"github.com/Vipatra/awaaz/internal/engine"
)

// Pool is a fixed-capacity pool of interchangeable recognition engines.
// Acquire blocks until an engine is free; every acquired engine must be
// returned with Release, including on failed recognition calls.
type Pool struct {
	engines  chan engine.ASR
	capacity int
}

// New creates a pool of the given capacity, constructing one engine per
// slot with the factory.
func New(capacity int, factory func() (engine.ASR, error)) (*Pool, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("pool capacity must be at least 1, got %d", capacity)
	}

	p := &Pool{
		engines:  make(chan engine.ASR, capacity),
		capacity: capacity,
	}

	for i := 0; i < capacity; i++ {
		eng, err := factory()
		if err != nil {
			p.closeEngines()
			return nil, fmt.Errorf("failed to create engine %d of %d: %w", i+1, capacity, err)
		}
		p.engines <- eng
	}

	return p, nil
}

// Acquire checks an engine out of the pool, blocking until one is free or
// the context is cancelled.
func (p *Pool) Acquire(ctx context.Context) (engine.ASR, error) {
	select {
	case eng := <-p.engines:
		return eng, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns an engine to the pool. The engine must have come from
// this pool and must not already be checked in.
func (p *Pool) Release(eng engine.ASR) {
	select {
	case p.engines <- eng:
	default:
		// More releases than acquisitions means a caller broke the
		// scoped-acquisition contract.
		panic("pool: release without matching acquire")
	}
}

// Capacity returns the fixed pool capacity.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Available returns the number of engines currently checked in.
func (p *Pool) Available() int {
	return len(p.engines)
}

// Close shuts down all engines currently in the pool. Engines still checked
// out are closed by their holders' Release going unanswered; Close is meant
// for shutdown after all sessions are gone.
func (p *Pool) Close() error {
	return p.closeEngines()
}

func (p *Pool) closeEngines() error {
	var firstErr error
	for {
		select {
		case eng := <-p.engines:
			if err := eng.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		default:
			return firstErr
		}
	}
}
