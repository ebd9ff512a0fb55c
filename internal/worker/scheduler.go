// Package worker contains the campaign scheduler: the background loop that
// starts scheduled campaigns when their send time arrives and re-enqueues
// sending campaigns that lost their run to a crash.
package worker

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// Trigger starts a campaign send. Satisfied by campaign.Service; the
// scheduler fires the same idempotent trigger as the API.
type Trigger interface {
	StartSend(ctx context.Context, id uuid.UUID) error
}

// CampaignSource lists campaigns whose scheduled send time has arrived.
type CampaignSource interface {
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// RunSource finds sending campaigns with no live run and re-enqueues them.
type RunSource interface {
	OrphanedSendingCampaigns(ctx context.Context, limit int) ([]uuid.UUID, error)
	Enqueue(ctx context.Context, campaignID uuid.UUID) error
}

// Scheduler polls for due and orphaned campaigns.
type Scheduler struct {
	campaigns CampaignSource
	runs      RunSource
	trigger   Trigger
	interval  time.Duration
}

// NewScheduler creates a scheduler scanning on the given interval.
func NewScheduler(campaigns CampaignSource, runs RunSource, trigger Trigger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{campaigns: campaigns, runs: runs, trigger: trigger, interval: interval}
}

// Start polls until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Printf("[Scheduler] Started (interval: %s)", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Scheduler] Stopped")
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

// scan runs one scheduling pass.
func (s *Scheduler) scan(ctx context.Context) {
	due, err := s.campaigns.DueScheduled(ctx, time.Now(), 50)
	if err != nil {
		log.Printf("[Scheduler] Query due campaigns: %v", err)
	}
	for _, id := range due {
		if err := s.trigger.StartSend(ctx, id); err != nil {
			log.Printf("[Scheduler] Start campaign %s: %v", id, err)
			continue
		}
		log.Printf("[Scheduler] Started scheduled campaign %s", id)
	}

	orphaned, err := s.runs.OrphanedSendingCampaigns(ctx, 50)
	if err != nil {
		log.Printf("[Scheduler] Query orphaned campaigns: %v", err)
		return
	}
	for _, id := range orphaned {
		if err := s.runs.Enqueue(ctx, id); err != nil {
			log.Printf("[Scheduler] Re-enqueue campaign %s: %v", id, err)
			continue
		}
		log.Printf("[Scheduler] Re-enqueued orphaned sending campaign %s", id)
	}
}
