package orchestrator

import (
	"context"
	"sync"
	"time"
)

// Pacer bounds the submission rate of the dispatcher. It combines a fixed
// number of worker slots with a shared minimum interval between
// submissions, so the provider sees at most ratePerSecond requests no
// matter how many workers run.
type Pacer struct {
	slots    chan struct{}
	interval time.Duration

	mu   sync.Mutex
	next time.Time
}

// NewPacer creates a pacer allowing concurrency in-flight sends and at most
// ratePerSecond submissions per second.
func NewPacer(ratePerSecond, concurrency int) *Pacer {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pacer{
		slots:    make(chan struct{}, concurrency),
		interval: time.Second / time.Duration(ratePerSecond),
	}
}

// Acquire blocks until a worker slot is free and the next submission tick
// has passed. Every successful Acquire must be paired with Release.
func (p *Pacer) Acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	now := time.Now()
	var wait time.Duration
	if p.next.After(now) {
		wait = p.next.Sub(now)
		p.next = p.next.Add(p.interval)
	} else {
		p.next = now.Add(p.interval)
	}
	p.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			<-p.slots
			return ctx.Err()
		}
	}
	return nil
}

// Release frees the worker slot taken by Acquire.
func (p *Pacer) Release() { <-p.slots }
