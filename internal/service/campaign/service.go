package campaign

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-orchestrator/internal/domain"
	"github.com/ignite/campaign-orchestrator/internal/store"
)

// Service implements campaign lifecycle logic: create, trigger, pause,
// resume, cancel, and the ledger-derived progress view.
type Service struct {
	repo    Repository
	ledger  LedgerReader
	enqueue RunEnqueuer
}

// NewService creates a campaign service.
func NewService(repo Repository, ledger LedgerReader, enqueue RunEnqueuer) *Service {
	return &Service{repo: repo, ledger: ledger, enqueue: enqueue}
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name         string           `json:"name"`
	Subject      string           `json:"subject"`
	FromName     string           `json:"from_name"`
	FromEmail    string           `json:"from_email"`
	ReplyTo      string           `json:"reply_to"`
	HTMLContent  string           `json:"html_content"`
	PlainContent string           `json:"plain_content"`
	Targeting    domain.Targeting `json:"targeting"`
	ScheduledAt  *time.Time       `json:"scheduled_at"`
}

// Create validates and persists a new campaign. A scheduled_at in the future
// puts the campaign in scheduled status; otherwise it starts as draft.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Campaign, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrMissingContent)
	}
	if input.Subject == "" || input.HTMLContent == "" {
		return nil, ErrMissingContent
	}
	if input.FromEmail == "" {
		return nil, fmt.Errorf("%w: from_email is required", ErrMissingContent)
	}
	if input.Targeting.IsEmpty() {
		return nil, ErrMissingTargeting
	}

	c := &domain.Campaign{
		ID:           uuid.New(),
		Name:         input.Name,
		Subject:      input.Subject,
		FromName:     input.FromName,
		FromEmail:    input.FromEmail,
		ReplyTo:      input.ReplyTo,
		HTMLContent:  input.HTMLContent,
		PlainContent: input.PlainContent,
		Targeting:    input.Targeting,
		ScheduledAt:  input.ScheduledAt,
		Status:       domain.CampaignStatusDraft,
	}
	if input.ScheduledAt != nil {
		c.Status = domain.CampaignStatusScheduled
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return c, err
}

// StartSend triggers the send of a draft or scheduled campaign. It moves the
// campaign to sending and enqueues an orchestration run. Triggering a
// campaign that is already sending is a no-op beyond re-ensuring the run
// exists, which makes the operation safe to retry and lets a crashed send be
// kicked again.
func (s *Service) StartSend(ctx context.Context, id uuid.UUID) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if c.Status == domain.CampaignStatusSending {
		return s.enqueue.Enqueue(ctx, id)
	}
	if !c.Status.CanTransitionTo(domain.CampaignStatusSending) {
		return fmt.Errorf("%w: %s -> sending", ErrInvalidTransition, c.Status)
	}

	moved, err := s.repo.TransitionStatus(ctx, id, domain.CampaignStatusSending,
		domain.CampaignStatusDraft, domain.CampaignStatusScheduled)
	if err != nil {
		return err
	}
	if !moved {
		// Someone else changed the status between Get and the guarded
		// update. If they started the send, the outcome is the same.
		current, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != domain.CampaignStatusSending {
			return fmt.Errorf("%w: %s -> sending", ErrInvalidTransition, current.Status)
		}
	}

	log.Printf("[campaign.Service] Campaign %s triggered", id)
	return s.enqueue.Enqueue(ctx, id)
}

// Pause suspends a sending campaign at the next batch boundary.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, domain.CampaignStatusPaused, domain.CampaignStatusSending)
}

// Resume continues a paused campaign. The ledger decides what is left to
// send, so no progress is lost or repeated.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) error {
	if err := s.transition(ctx, id, domain.CampaignStatusSending, domain.CampaignStatusPaused); err != nil {
		return err
	}
	log.Printf("[campaign.Service] Campaign %s resumed", id)
	return s.enqueue.Enqueue(ctx, id)
}

// Cancel terminally stops a campaign. Contacts already attempted keep their
// ledger entries; nothing further is sent.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, domain.CampaignStatusCancelled,
		domain.CampaignStatusDraft, domain.CampaignStatusScheduled,
		domain.CampaignStatusSending, domain.CampaignStatusPaused)
}

// Progress returns the campaign with progress recomputed live from the send
// ledger rather than the cached counters.
func (s *Service) Progress(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	counts, err := s.ledger.Counts(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Progress.Processed = counts.Processed()
	c.Progress.Failed = counts.Failed
	c.Progress.Percentage = counts.Percentage(c.Progress.TotalRecipients)
	return c, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to domain.CampaignStatus, allowedFrom ...domain.CampaignStatus) error {
	moved, err := s.repo.TransitionStatus(ctx, id, to, allowedFrom...)
	if err != nil {
		return err
	}
	if moved {
		log.Printf("[campaign.Service] Campaign %s -> %s", id, to)
		return nil
	}

	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == to {
		// Already there; repeating a lifecycle call is not an error.
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
}
