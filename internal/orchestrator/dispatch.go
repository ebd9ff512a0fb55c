package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ignite/campaign-orchestrator/internal/domain"
	"github.com/ignite/campaign-orchestrator/internal/pkg/logger"
	"github.com/ignite/campaign-orchestrator/internal/provider"
)

// ContactLoader loads the full contact rows for a reserved batch.
type ContactLoader interface {
	ByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Contact, error)
}

// MessageBuilder renders campaign content for one contact.
type MessageBuilder interface {
	Build(campaign *domain.Campaign, contact *domain.Contact) (*domain.EmailMessage, error)
}

// Dispatcher sends one reserved batch through the provider under the pacer.
type Dispatcher struct {
	contacts    ContactLoader
	builder     MessageBuilder
	sender      provider.Sender
	pacer       *Pacer
	limiter     *WindowLimiter // optional, nil without Redis
	concurrency int
}

// NewDispatcher builds a dispatcher. limiter may be nil.
func NewDispatcher(contacts ContactLoader, builder MessageBuilder, sender provider.Sender, pacer *Pacer, limiter *WindowLimiter, concurrency int) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Dispatcher{
		contacts:    contacts,
		builder:     builder,
		sender:      sender,
		pacer:       pacer,
		limiter:     limiter,
		concurrency: concurrency,
	}
}

// Dispatch sends to every contact in the batch and returns the terminal
// outcomes it produced. A provider rate limit aborts the batch: outcomes
// collected so far are returned together with the rate limit error, and the
// remaining contacts keep their pending reservations for the next attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, campaign *domain.Campaign, contactIDs []uuid.UUID) ([]domain.SendRecord, error) {
	if len(contactIDs) == 0 {
		return nil, nil
	}

	loaded, err := d.contacts.ByIDs(ctx, contactIDs)
	if err != nil {
		return nil, fmt.Errorf("load batch contacts: %w", err)
	}
	byID := make(map[uuid.UUID]*domain.Contact, len(loaded))
	for i := range loaded {
		byID[loaded[i].ID] = &loaded[i]
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		records  []domain.SendRecord
		abortErr error
	)
	jobs := make(chan uuid.UUID)

	var wg sync.WaitGroup
	for i := 0; i < d.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for contactID := range jobs {
				if ctx.Err() != nil {
					continue
				}
				rec, err := d.sendOne(ctx, campaign, contactID, byID[contactID])
				mu.Lock()
				if err != nil {
					if abortErr == nil {
						abortErr = err
						cancel()
					}
				} else {
					records = append(records, rec)
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, id := range contactIDs {
		select {
		case jobs <- id:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if abortErr != nil {
		return records, abortErr
	}
	if err := ctx.Err(); err != nil {
		return records, err
	}
	return records, nil
}

// sendOne produces a terminal outcome for one contact, or an error that
// aborts the whole batch (rate limit or cancellation).
func (d *Dispatcher) sendOne(ctx context.Context, campaign *domain.Campaign, contactID uuid.UUID, contact *domain.Contact) (domain.SendRecord, error) {
	rec := domain.SendRecord{CampaignID: campaign.ID, ContactID: contactID}

	if contact == nil {
		rec.Status = domain.SendFailed
		rec.ErrorMessage = "contact no longer exists"
		return rec, nil
	}

	if d.limiter != nil {
		allowed, wait, err := d.limiter.Allow(ctx, d.sender.Name(), 1)
		if err != nil {
			return rec, err
		}
		if !allowed {
			return rec, &provider.RateLimitError{Provider: d.sender.Name(), RetryAfter: wait}
		}
	}

	logger.Debug("dispatching contact", "campaign_id", campaign.ID.String(), "contact_email", contact.Email)

	msg, err := d.builder.Build(campaign, contact)
	if err != nil {
		rec.Status = domain.SendFailed
		rec.ErrorMessage = truncateError(err)
		return rec, nil
	}

	if err := d.pacer.Acquire(ctx); err != nil {
		return rec, err
	}
	defer d.pacer.Release()

	result, err := d.sender.Send(ctx, msg)
	if err != nil {
		if provider.IsRateLimit(err) {
			return rec, err
		}
		rec.Status = domain.SendFailed
		rec.ErrorMessage = truncateError(err)
		logger.Warn("send failed permanently", "campaign_id", campaign.ID.String(),
			"contact_email", contact.Email, "error", rec.ErrorMessage)
		return rec, nil
	}

	rec.Status = domain.SendSent
	rec.ProviderMessageID = result.MessageID
	return rec, nil
}

func truncateError(err error) string {
	const maxLen = 250
	s := err.Error()
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}
