package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusSending   CampaignStatus = "sending"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCancelled CampaignStatus = "cancelled"
	CampaignStatusSent      CampaignStatus = "sent"
)

// allowedTransitions is the explicit edge list for campaign status changes.
// Anything not listed here is an invalid transition.
var allowedTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignStatusDraft:     {CampaignStatusScheduled, CampaignStatusSending, CampaignStatusCancelled},
	CampaignStatusScheduled: {CampaignStatusDraft, CampaignStatusSending, CampaignStatusCancelled},
	CampaignStatusSending:   {CampaignStatusSent, CampaignStatusPaused, CampaignStatusCancelled, CampaignStatusDraft},
	CampaignStatusPaused:    {CampaignStatusSending, CampaignStatusCancelled},
	CampaignStatusCancelled: {},
	CampaignStatusSent:      {},
}

// CanTransitionTo reports whether moving from s to target is an allowed edge.
// Self-transitions are allowed so idempotent triggers stay no-ops.
func (s CampaignStatus) CanTransitionTo(target CampaignStatus) bool {
	if s == target {
		return true
	}
	for _, t := range allowedTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the campaign is in a final state.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusSent || s == CampaignStatusCancelled
}

// Targeting describes which contacts a campaign is addressed to.
// Explicit ids, list memberships, and tag filters are unioned, then
// deduplicated and capped by the target resolver.
type Targeting struct {
	ContactIDs []uuid.UUID `json:"contact_ids,omitempty"`
	ListIDs    []uuid.UUID `json:"list_ids,omitempty"`
	Tags       []string    `json:"tags,omitempty"`
	MaxPerList int         `json:"max_per_list,omitempty"`
	MaxTotal   int         `json:"max_total,omitempty"`
}

// IsEmpty reports whether the targeting rule selects nothing at all.
func (t Targeting) IsEmpty() bool {
	return len(t.ContactIDs) == 0 && len(t.ListIDs) == 0 && len(t.Tags) == 0
}

// Progress tracks how far a sending campaign has advanced. All counts are
// derived from the send ledger, never from in-memory counters, so they
// survive process restarts.
type Progress struct {
	TotalRecipients      int        `json:"total_recipients" db:"total_recipients"`
	Processed            int        `json:"processed" db:"processed_count"`
	Failed               int        `json:"failed" db:"failed_count"`
	Percentage           int        `json:"percentage" db:"percentage"`
	LastBatchCompletedAt *time.Time `json:"last_batch_completed_at" db:"last_batch_completed_at"`
}

// Stats holds aggregate campaign counters. Sent and Bounced are frozen from
// the ledger at completion; the engagement counters are mutated externally by
// the tracking endpoints, which are out of this system's scope.
type Stats struct {
	Sent         int     `json:"sent" db:"sent_count"`
	Delivered    int     `json:"delivered" db:"delivered_count"`
	Opened       int     `json:"opened" db:"open_count"`
	Clicked      int     `json:"clicked" db:"click_count"`
	Bounced      int     `json:"bounced" db:"bounce_count"`
	Unsubscribed int     `json:"unsubscribed" db:"unsubscribe_count"`
	OpenRate     float64 `json:"open_rate" db:"open_rate"`
	ClickRate    float64 `json:"click_rate" db:"click_rate"`
}

// Campaign represents a single bulk-email send job with content, targeting,
// and status. While status is "sending" it is mutated only by the
// orchestration loop; it is created and edited externally while draft or
// scheduled.
type Campaign struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	Name         string         `json:"name" db:"name"`
	Subject      string         `json:"subject" db:"subject"`
	FromName     string         `json:"from_name" db:"from_name"`
	FromEmail    string         `json:"from_email" db:"from_email"`
	ReplyTo      string         `json:"reply_to" db:"reply_to"`
	HTMLContent  string         `json:"html_content" db:"html_content"`
	PlainContent string         `json:"plain_content" db:"plain_content"`
	Status       CampaignStatus `json:"status" db:"status"`
	Targeting    Targeting      `json:"targeting" db:"targeting"`
	ScheduledAt  *time.Time     `json:"scheduled_at" db:"scheduled_at"`

	Progress Progress `json:"progress"`
	Stats    Stats    `json:"stats"`

	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}
