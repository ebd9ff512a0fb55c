// Package steps hosts orchestration runs. Runs are durable rows, claimed by
// polling, executed under a per-campaign distributed lock, and rescheduled
// rather than slept on. The contract with the orchestrator is at-least-once:
// a run that dies mid-invocation is claimed again later, and every
// orchestrator step is idempotent against that.
package steps

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-orchestrator/internal/orchestrator"
	"github.com/ignite/campaign-orchestrator/internal/pkg/distlock"
	"github.com/ignite/campaign-orchestrator/internal/provider"
)

// Executor is one orchestration invocation.
type Executor interface {
	Run(ctx context.Context, campaignID uuid.UUID) (orchestrator.Outcome, error)
}

// runQueue is the slice of RunStore the runner loop needs.
type runQueue interface {
	ClaimDue(ctx context.Context, limit int) ([]Run, error)
	Complete(ctx context.Context, runID uuid.UUID, note string) error
	Reschedule(ctx context.Context, runID uuid.UUID, at time.Time, lastError string) error
	Fail(ctx context.Context, runID uuid.UUID, lastError string) error
	RecoverStuck(ctx context.Context, olderThan time.Duration) (int, error)
}

// LockFactory builds the per-campaign lock guarding run execution.
type LockFactory func(campaignID uuid.UUID) distlock.DistLock

// CampaignParker parks a campaign whose run has exhausted its attempts, so
// the orphan scan does not immediately re-enqueue it.
type CampaignParker interface {
	Pause(ctx context.Context, campaignID uuid.UUID) error
}

// Config tunes the runner.
type Config struct {
	PollInterval time.Duration
	LockTTL      time.Duration
	MaxAttempts  int
	ClaimBatch   int
}

// Runner polls for due runs and executes them.
type Runner struct {
	runs    runQueue
	exec    Executor
	newLock LockFactory
	parker  CampaignParker
	cfg     Config
}

// NewRunner creates a runner.
func NewRunner(runs runQueue, exec Executor, newLock LockFactory, cfg Config) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.ClaimBatch <= 0 {
		cfg.ClaimBatch = 10
	}
	return &Runner{runs: runs, exec: exec, newLock: newLock, cfg: cfg}
}

// SetParker installs the collaborator that pauses a campaign after its run
// has permanently failed. Optional; without one, only the run row records
// the failure.
func (r *Runner) SetParker(p CampaignParker) {
	r.parker = p
}

// Start polls until the context is cancelled. Claimed runs execute in their
// own goroutines; Start returns after in-flight runs finish.
func (r *Runner) Start(ctx context.Context) {
	log.Printf("[Runner] Started (poll: %s)", r.cfg.PollInterval)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			log.Printf("[Runner] Stopped")
			return
		case <-ticker.C:
			r.tick(ctx, &wg)
		}
	}
}

func (r *Runner) tick(ctx context.Context, wg *sync.WaitGroup) {
	if n, err := r.runs.RecoverStuck(ctx, 2*r.cfg.LockTTL); err != nil {
		log.Printf("[Runner] Recover stuck runs: %v", err)
	} else if n > 0 {
		log.Printf("[Runner] Re-queued %d stuck runs", n)
	}

	runs, err := r.runs.ClaimDue(ctx, r.cfg.ClaimBatch)
	if err != nil {
		log.Printf("[Runner] Claim due runs: %v", err)
		return
	}

	for _, run := range runs {
		wg.Add(1)
		go func(run Run) {
			defer wg.Done()
			r.processRun(ctx, run)
		}(run)
	}
}

// processRun executes one claimed run under the campaign lock and decides
// what happens to the run row afterwards.
func (r *Runner) processRun(ctx context.Context, run Run) {
	lock := r.newLock(run.CampaignID)
	acquired, err := lock.Acquire(ctx)
	if err != nil || !acquired {
		// Another runner holds the campaign; try again next poll.
		r.reschedule(run, time.Now().Add(r.cfg.PollInterval), "campaign locked by another runner")
		return
	}
	defer lock.Release(context.Background())

	stopKeepalive := r.keepalive(ctx, lock)
	outcome, runErr := r.exec.Run(ctx, run.CampaignID)
	stopKeepalive()

	switch outcome {
	case orchestrator.OutcomeCompleted, orchestrator.OutcomeStopped:
		if err := r.runs.Complete(context.Background(), run.ID, ""); err != nil {
			log.Printf("[Runner] Complete run %s: %v", run.ID, err)
		}
	case orchestrator.OutcomeInvalid:
		note := ""
		if runErr != nil {
			note = runErr.Error()
		}
		if err := r.runs.Complete(context.Background(), run.ID, note); err != nil {
			log.Printf("[Runner] Complete run %s: %v", run.ID, err)
		}
	default: // OutcomeContinuing
		r.continueRun(run, runErr)
	}
}

func (r *Runner) continueRun(run Run, runErr error) {
	now := time.Now()

	if runErr == nil {
		// Batch budget exhausted with work remaining; pick it right up.
		r.reschedule(run, now, "")
		return
	}

	if provider.IsRateLimit(runErr) {
		wait := provider.RetryAfter(runErr)
		if wait <= 0 {
			wait = r.backoff(run.Attempts)
		}
		log.Printf("[Runner] Campaign %s rate limited, retrying in %s", run.CampaignID, wait)
		r.reschedule(run, now.Add(wait), runErr.Error())
		return
	}

	if run.Attempts >= r.cfg.MaxAttempts {
		log.Printf("[Runner] Run %s giving up after %d attempts: %v", run.ID, run.Attempts, runErr)
		if err := r.runs.Fail(context.Background(), run.ID, runErr.Error()); err != nil {
			log.Printf("[Runner] Fail run %s: %v", run.ID, err)
		}
		// Park the campaign too. Left in sending, the orphan scan would
		// enqueue a fresh run and restart the attempt budget forever.
		if r.parker != nil {
			if err := r.parker.Pause(context.Background(), run.CampaignID); err != nil {
				log.Printf("[Runner] Pause campaign %s after failed run: %v", run.CampaignID, err)
			} else {
				log.Printf("[Runner] Campaign %s paused; resume to retry after fixing the cause", run.CampaignID)
			}
		}
		return
	}
	r.reschedule(run, now.Add(r.backoff(run.Attempts)), runErr.Error())
}

// keepalive extends the campaign lock at half its TTL while the run
// executes, so a slow provider cannot outlive the lock mid-dispatch. Locks
// without a TTL, such as the advisory lock fallback, are left alone.
func (r *Runner) keepalive(ctx context.Context, lock distlock.DistLock) func() {
	ext, ok := lock.(interface {
		Extend(ctx context.Context, ttl time.Duration) error
	})
	if !ok {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(r.cfg.LockTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ext.Extend(ctx, r.cfg.LockTTL); err != nil {
					log.Printf("[Runner] Extend campaign lock: %v", err)
				}
			}
		}
	}()
	return func() { close(done) }
}

func (r *Runner) reschedule(run Run, at time.Time, note string) {
	if err := r.runs.Reschedule(context.Background(), run.ID, at, note); err != nil {
		log.Printf("[Runner] Reschedule run %s: %v", run.ID, err)
	}
}

// backoff doubles from five seconds per prior attempt, capped at ten
// minutes.
func (r *Runner) backoff(attempts int) time.Duration {
	d := 5 * time.Second
	for i := 1; i < attempts && d < 10*time.Minute; i++ {
		d *= 2
	}
	if d > 10*time.Minute {
		d = 10 * time.Minute
	}
	return d
}
