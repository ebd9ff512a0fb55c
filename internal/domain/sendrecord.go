package domain

import (
	"time"

	"github.com/google/uuid"
)

// SendRecordStatus enumerates the lifecycle of a single ledger entry.
type SendRecordStatus string

const (
	// SendPending marks an active reservation: the contact is claimed for
	// sending but no terminal outcome has been recorded yet.
	SendPending SendRecordStatus = "pending"
	SendSent    SendRecordStatus = "sent"
	SendFailed  SendRecordStatus = "failed"
)

// IsTerminal reports whether the record can no longer change.
func (s SendRecordStatus) IsTerminal() bool {
	return s == SendSent || s == SendFailed
}

// SendRecord is one entry in the send ledger, keyed by (campaign, contact).
// The ledger is the source of truth for what has been attempted: at most one
// record exists per pair, and once terminal it is immutable. A pending record
// left behind by a crashed run is resolved by a later run, never deleted.
type SendRecord struct {
	CampaignID        uuid.UUID        `json:"campaign_id" db:"campaign_id"`
	ContactID         uuid.UUID        `json:"contact_id" db:"contact_id"`
	Status            SendRecordStatus `json:"status" db:"status"`
	ProviderMessageID string           `json:"provider_message_id,omitempty" db:"provider_message_id"`
	ErrorMessage      string           `json:"error_message,omitempty" db:"error_message"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

// LedgerCounts is the per-status aggregate for one campaign, recomputed from
// the ledger after every batch.
type LedgerCounts struct {
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// Processed returns the number of contacts with a terminal outcome.
func (c LedgerCounts) Processed() int { return c.Sent + c.Failed }

// Complete reports whether every one of total recipients has a terminal
// outcome and no reservation is outstanding.
func (c LedgerCounts) Complete(total int) bool {
	return c.Pending == 0 && c.Processed() == total
}

// Percentage returns the rounded sent percentage against total. Total of
// zero yields zero rather than dividing.
func (c LedgerCounts) Percentage(total int) int {
	if total <= 0 {
		return 0
	}
	return int(float64(c.Sent)/float64(total)*100 + 0.5)
}
