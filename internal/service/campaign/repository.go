package campaign

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignite/campaign-orchestrator/internal/domain"
)

// Repository defines the data access contract for the lifecycle service.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Create inserts a new campaign in draft status.
	Create(ctx context.Context, c *domain.Campaign) error

	// Get returns a single campaign or store.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)

	// TransitionStatus moves the campaign to a new status only when its
	// current status is one of allowedFrom, reporting whether a row changed.
	TransitionStatus(ctx context.Context, id uuid.UUID, to domain.CampaignStatus, allowedFrom ...domain.CampaignStatus) (bool, error)
}

// LedgerReader exposes the aggregate the progress view needs.
type LedgerReader interface {
	Counts(ctx context.Context, campaignID uuid.UUID) (domain.LedgerCounts, error)
}

// RunEnqueuer schedules an orchestration run for a campaign. Enqueue is
// idempotent: a campaign with an active run is not enqueued twice.
type RunEnqueuer interface {
	Enqueue(ctx context.Context, campaignID uuid.UUID) error
}
