package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacerHoldsRate(t *testing.T) {
	// 50/sec means 20ms between submissions; 10 submissions need at
	// least 9 intervals regardless of worker count.
	p := NewPacer(50, 4)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, p.Acquire(context.Background()))
			p.Release()
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, time.Since(start), 9*20*time.Millisecond)
}

func TestPacerBoundsConcurrency(t *testing.T) {
	p := NewPacer(1000, 2)

	var mu sync.Mutex
	inFlight, peak := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, p.Acquire(context.Background()))
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			p.Release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, 2)
}

func TestPacerAcquireCancellable(t *testing.T) {
	p := NewPacer(1, 1)
	require.NoError(t, p.Acquire(context.Background()))

	// Slot is held; a second acquire must give up when cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.Release()
}
