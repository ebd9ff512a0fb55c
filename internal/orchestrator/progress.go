package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-orchestrator/internal/domain"
)

// progressTracker recomputes campaign progress from the ledger after every
// batch. Counts always come from the store, never from counters held in
// memory, so progress stays correct across crashes and resumes.
type progressTracker struct {
	campaigns CampaignRepo
	ledger    LedgerRepo
}

// update aggregates the ledger and writes the derived progress row.
func (t *progressTracker) update(ctx context.Context, campaignID uuid.UUID, total int) (domain.LedgerCounts, error) {
	counts, err := t.ledger.Counts(ctx, campaignID)
	if err != nil {
		return counts, err
	}

	now := time.Now()
	p := domain.Progress{
		TotalRecipients:      total,
		Processed:            counts.Processed(),
		Failed:               counts.Failed,
		Percentage:           counts.Percentage(total),
		LastBatchCompletedAt: &now,
	}
	if err := t.campaigns.UpdateProgress(ctx, campaignID, p); err != nil {
		return counts, fmt.Errorf("write progress: %w", err)
	}
	return counts, nil
}

// finishIfComplete transitions the campaign to sent when every recipient has
// a terminal outcome. The store guards the transition on status=sending, so
// completion happens exactly once even if two runs race.
func (t *progressTracker) finishIfComplete(ctx context.Context, campaignID uuid.UUID, total int, counts domain.LedgerCounts) (bool, error) {
	if !counts.Complete(total) {
		return false, nil
	}
	return t.campaigns.MarkCompleted(ctx, campaignID, counts.Sent, counts.Failed)
}
