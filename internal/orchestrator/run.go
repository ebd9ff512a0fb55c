// Package orchestrator contains the campaign send loop: target resolution,
// batch reservation, rate-bounded dispatch, and ledger-derived progress. A
// single Run invocation processes at most a fixed number of batches; the
// step host re-invokes until the run reports completion.
package orchestrator

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/ignite/campaign-orchestrator/internal/domain"
	"github.com/ignite/campaign-orchestrator/internal/provider"
)

// Outcome is what a single Run invocation decided.
type Outcome string

const (
	// OutcomeContinuing means work remains; the host should re-invoke.
	OutcomeContinuing Outcome = "continuing"
	// OutcomeCompleted means every recipient has a terminal ledger entry
	// and the campaign moved to sent.
	OutcomeCompleted Outcome = "completed"
	// OutcomeStopped means the campaign left the sending state (paused or
	// cancelled); the run ends without further work.
	OutcomeStopped Outcome = "stopped"
	// OutcomeInvalid means the campaign cannot be sent as configured; it
	// was returned to draft.
	OutcomeInvalid Outcome = "invalid"
)

// CampaignRepo is the campaign persistence the orchestrator needs.
type CampaignRepo interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	GetStatus(ctx context.Context, id uuid.UUID) (domain.CampaignStatus, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, to domain.CampaignStatus, allowedFrom ...domain.CampaignStatus) (bool, error)
	MarkStarted(ctx context.Context, id uuid.UUID, totalRecipients int) error
	UpdateProgress(ctx context.Context, id uuid.UUID, p domain.Progress) error
	MarkCompleted(ctx context.Context, id uuid.UUID, sent, failed int) (bool, error)
}

// LedgerRepo is the send ledger surface used by the loop.
type LedgerRepo interface {
	Reserve(ctx context.Context, campaignID uuid.UUID, contactIDs []uuid.UUID) ([]uuid.UUID, error)
	FinalizeBatch(ctx context.Context, campaignID uuid.UUID, outcomes []domain.SendRecord) error
	Counts(ctx context.Context, campaignID uuid.UUID) (domain.LedgerCounts, error)
	PendingContactIDs(ctx context.Context, campaignID uuid.UUID, limit int) ([]uuid.UUID, error)
	AttemptedContactIDs(ctx context.Context, campaignID uuid.UUID) (map[uuid.UUID]bool, error)
}

// Validator checks campaign content before any contact is attempted.
type Validator interface {
	Validate(campaign *domain.Campaign) error
}

// Config sizes one Run invocation.
type Config struct {
	// BatchSize is the number of contacts reserved and dispatched together.
	BatchSize int
	// BatchesPerRun bounds how many batches one invocation processes
	// before yielding back to the host.
	BatchesPerRun int
	// MaxPerList and MaxTotal cap the resolved audience when a campaign's
	// own targeting leaves them unset.
	MaxPerList int
	MaxTotal   int
}

// Orchestrator drives campaign sends.
type Orchestrator struct {
	campaigns  CampaignRepo
	contacts   ContactSource
	ledger     LedgerRepo
	dispatcher *Dispatcher
	validator  Validator
	tracker    *progressTracker
	cfg        Config
}

// New creates an orchestrator.
func New(campaigns CampaignRepo, contacts ContactSource, ledger LedgerRepo, dispatcher *Dispatcher, validator Validator, cfg Config) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.BatchesPerRun <= 0 {
		cfg.BatchesPerRun = 20
	}
	if cfg.MaxPerList <= 0 {
		cfg.MaxPerList = 50000
	}
	if cfg.MaxTotal <= 0 {
		cfg.MaxTotal = 100000
	}
	return &Orchestrator{
		campaigns:  campaigns,
		contacts:   contacts,
		ledger:     ledger,
		dispatcher: dispatcher,
		validator:  validator,
		tracker:    &progressTracker{campaigns: campaigns, ledger: ledger},
		cfg:        cfg,
	}
}

// Run executes one bounded slice of a campaign send. It is safe to invoke
// repeatedly and concurrently-guarded by the host's per-campaign lock: every
// step is idempotent, and all state lives in the campaign row and the send
// ledger. A returned error together with OutcomeContinuing means the host
// should retry; a *provider.RateLimitError carries the wait hint.
func (o *Orchestrator) Run(ctx context.Context, campaignID uuid.UUID) (Outcome, error) {
	campaign, err := o.campaigns.Get(ctx, campaignID)
	if err != nil {
		return OutcomeStopped, fmt.Errorf("load campaign: %w", err)
	}

	switch campaign.Status {
	case domain.CampaignStatusSending:
		// proceed
	case domain.CampaignStatusSent:
		return OutcomeCompleted, nil
	case domain.CampaignStatusDraft, domain.CampaignStatusScheduled:
		// A run exists but the trigger's status write never landed.
		// Re-assert sending so the run it enqueued can proceed.
		moved, err := o.campaigns.TransitionStatus(ctx, campaignID, domain.CampaignStatusSending,
			domain.CampaignStatusDraft, domain.CampaignStatusScheduled)
		if err != nil {
			return OutcomeContinuing, err
		}
		if !moved {
			return OutcomeStopped, nil
		}
		campaign.Status = domain.CampaignStatusSending
		log.Printf("[Orchestrator] Campaign %s re-asserted as sending", campaignID)
	default:
		log.Printf("[Orchestrator] Campaign %s is %s, nothing to do", campaignID, campaign.Status)
		return OutcomeStopped, nil
	}

	if err := o.validate(campaign); err != nil {
		return o.abortInvalid(ctx, campaignID, err)
	}

	targets, err := resolveTargets(ctx, o.contacts, o.cappedTargeting(campaign.Targeting))
	if err != nil {
		if IsValidation(err) {
			return o.abortInvalid(ctx, campaignID, err)
		}
		return OutcomeContinuing, err
	}
	total := len(targets)

	if err := o.campaigns.MarkStarted(ctx, campaignID, total); err != nil {
		return OutcomeContinuing, err
	}

	attempted, err := o.ledger.AttemptedContactIDs(ctx, campaignID)
	if err != nil {
		return OutcomeContinuing, err
	}
	unsent := make([]uuid.UUID, 0, total-len(attempted))
	for _, id := range targets {
		if !attempted[id] {
			unsent = append(unsent, id)
		}
	}

	log.Printf("[Orchestrator] Campaign %s: %d recipients, %d already attempted, %d to go",
		campaignID, total, len(attempted), len(unsent))

	counts := domain.LedgerCounts{}
	for batches := 0; batches < o.cfg.BatchesPerRun; batches++ {
		// Pause and cancel are observed at batch boundaries only.
		status, err := o.campaigns.GetStatus(ctx, campaignID)
		if err != nil {
			return OutcomeContinuing, err
		}
		if status != domain.CampaignStatusSending {
			log.Printf("[Orchestrator] Campaign %s became %s, stopping", campaignID, status)
			return OutcomeStopped, nil
		}

		batch, unsentLeft, err := o.nextBatch(ctx, campaignID, unsent)
		if err != nil {
			return OutcomeContinuing, err
		}
		unsent = unsentLeft
		if len(batch) == 0 {
			break
		}

		records, dispatchErr := o.dispatcher.Dispatch(ctx, campaign, batch)
		if len(records) > 0 {
			if err := o.ledger.FinalizeBatch(ctx, campaignID, records); err != nil {
				return OutcomeContinuing, err
			}
		}
		if counts, err = o.tracker.update(ctx, campaignID, total); err != nil {
			return OutcomeContinuing, err
		}
		if dispatchErr != nil {
			if provider.IsRateLimit(dispatchErr) {
				log.Printf("[Orchestrator] Campaign %s rate limited: %v", campaignID, dispatchErr)
			}
			return OutcomeContinuing, dispatchErr
		}
	}

	if counts == (domain.LedgerCounts{}) {
		if counts, err = o.tracker.update(ctx, campaignID, total); err != nil {
			return OutcomeContinuing, err
		}
	}

	completed, err := o.tracker.finishIfComplete(ctx, campaignID, total, counts)
	if err != nil {
		return OutcomeContinuing, err
	}
	if completed {
		log.Printf("[Orchestrator] Campaign %s completed: %d sent, %d failed",
			campaignID, counts.Sent, counts.Failed)
		return OutcomeCompleted, nil
	}
	if counts.Complete(total) {
		// Another actor moved the campaign out of sending first.
		return OutcomeStopped, nil
	}
	return OutcomeContinuing, nil
}

// nextBatch assembles the next batch: stale pending reservations first, then
// newly reserved contacts to fill up to the batch size. It returns the batch
// and the remaining unsent queue.
func (o *Orchestrator) nextBatch(ctx context.Context, campaignID uuid.UUID, unsent []uuid.UUID) ([]uuid.UUID, []uuid.UUID, error) {
	batch, err := o.ledger.PendingContactIDs(ctx, campaignID, o.cfg.BatchSize)
	if err != nil {
		return nil, unsent, err
	}

	for len(batch) < o.cfg.BatchSize && len(unsent) > 0 {
		take := o.cfg.BatchSize - len(batch)
		if take > len(unsent) {
			take = len(unsent)
		}
		chunk := unsent[:take]
		unsent = unsent[take:]

		reserved, err := o.ledger.Reserve(ctx, campaignID, chunk)
		if err != nil {
			return nil, unsent, err
		}
		// Contacts lost to a concurrent reservation simply drop out here.
		batch = append(batch, reserved...)
	}
	return batch, unsent, nil
}

// cappedTargeting fills in the configured audience caps where the campaign's
// targeting leaves them zero, so no campaign resolves an unbounded audience.
func (o *Orchestrator) cappedTargeting(t domain.Targeting) domain.Targeting {
	if t.MaxPerList == 0 {
		t.MaxPerList = o.cfg.MaxPerList
	}
	if t.MaxTotal == 0 {
		t.MaxTotal = o.cfg.MaxTotal
	}
	return t
}

func (o *Orchestrator) validate(c *domain.Campaign) error {
	if c.Subject == "" {
		return &ValidationError{Field: "subject", Reason: "is empty"}
	}
	if c.HTMLContent == "" {
		return &ValidationError{Field: "html_content", Reason: "is empty"}
	}
	if c.FromEmail == "" {
		return &ValidationError{Field: "from_email", Reason: "is empty"}
	}
	if c.Targeting.IsEmpty() {
		return ErrNoRecipients
	}
	if o.validator != nil {
		if err := o.validator.Validate(c); err != nil {
			return &ValidationError{Field: "content", Reason: err.Error()}
		}
	}
	return nil
}

// abortInvalid returns an unsendable campaign to draft so it can be fixed
// and retriggered.
func (o *Orchestrator) abortInvalid(ctx context.Context, campaignID uuid.UUID, cause error) (Outcome, error) {
	log.Printf("[Orchestrator] Campaign %s is not sendable: %v", campaignID, cause)
	if _, err := o.campaigns.TransitionStatus(ctx, campaignID,
		domain.CampaignStatusDraft, domain.CampaignStatusSending); err != nil {
		return OutcomeInvalid, err
	}
	return OutcomeInvalid, cause
}
