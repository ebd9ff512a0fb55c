package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/campaign-orchestrator/internal/domain"
)

// LedgerStore persists send records. The (campaign_id, contact_id) primary
// key makes reservation a create-if-absent operation, which is what keeps a
// contact from ever being attempted twice.
type LedgerStore struct{ db *sql.DB }

// Reserve claims contacts for sending. It inserts pending records in one
// statement and returns only the contact ids newly inserted by this call.
// Contacts that already hold a record, pending or terminal, are silently
// excluded.
func (r *LedgerStore) Reserve(ctx context.Context, campaignID uuid.UUID, contactIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(contactIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		INSERT INTO send_records (campaign_id, contact_id, status, created_at, updated_at)
		SELECT $1, UNNEST($2::uuid[]), 'pending', NOW(), NOW()
		ON CONFLICT (campaign_id, contact_id) DO NOTHING
		RETURNING contact_id
	`, campaignID, pq.Array(contactIDs))
	if err != nil {
		return nil, fmt.Errorf("reserve contacts: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// FinalizeBatch records terminal outcomes for a batch in one statement. Only
// pending rows change, so re-applying an outcome after a retry is a no-op
// and a terminal record is never overwritten.
func (r *LedgerStore) FinalizeBatch(ctx context.Context, campaignID uuid.UUID, outcomes []domain.SendRecord) error {
	if len(outcomes) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(outcomes))
	statuses := make([]string, len(outcomes))
	messageIDs := make([]string, len(outcomes))
	errorMessages := make([]string, len(outcomes))
	for i, o := range outcomes {
		ids[i] = o.ContactID
		statuses[i] = string(o.Status)
		messageIDs[i] = o.ProviderMessageID
		errorMessages[i] = o.ErrorMessage
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE send_records
		SET status = data.status,
		    provider_message_id = data.message_id,
		    error_message = data.error_message,
		    updated_at = NOW()
		FROM (
			SELECT UNNEST($2::uuid[]) AS contact_id,
			       UNNEST($3::text[]) AS status,
			       UNNEST($4::text[]) AS message_id,
			       UNNEST($5::text[]) AS error_message
		) AS data
		WHERE send_records.campaign_id = $1
		  AND send_records.contact_id = data.contact_id
		  AND send_records.status = 'pending'
	`, campaignID, pq.Array(ids), pq.Array(statuses), pq.Array(messageIDs), pq.Array(errorMessages))
	if err != nil {
		return fmt.Errorf("finalize batch: %w", err)
	}
	return nil
}

// Counts aggregates the ledger for one campaign by status.
func (r *LedgerStore) Counts(ctx context.Context, campaignID uuid.UUID) (domain.LedgerCounts, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM send_records
		WHERE campaign_id = $1
		GROUP BY status
	`, campaignID)
	if err != nil {
		return domain.LedgerCounts{}, fmt.Errorf("ledger counts: %w", err)
	}
	defer rows.Close()

	var counts domain.LedgerCounts
	for rows.Next() {
		var status domain.SendRecordStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return domain.LedgerCounts{}, fmt.Errorf("scan count: %w", err)
		}
		switch status {
		case domain.SendPending:
			counts.Pending = n
		case domain.SendSent:
			counts.Sent = n
		case domain.SendFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

// PendingContactIDs returns up to limit contacts holding a stale
// reservation, oldest first. These are re-dispatched before any new
// contacts are reserved.
func (r *LedgerStore) PendingContactIDs(ctx context.Context, campaignID uuid.UUID, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT contact_id FROM send_records
		WHERE campaign_id = $1 AND status = 'pending'
		ORDER BY created_at, contact_id
		LIMIT $2
	`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("pending contacts: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// AttemptedContactIDs returns every contact already holding a ledger record
// for the campaign, terminal or pending. The orchestrator loads this once
// per run to skip contacts from earlier runs without issuing insert attempts
// for them.
func (r *LedgerStore) AttemptedContactIDs(ctx context.Context, campaignID uuid.UUID) (map[uuid.UUID]bool, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT contact_id FROM send_records WHERE campaign_id = $1
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("attempted contacts: %w", err)
	}
	defer rows.Close()

	attempted := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan contact id: %w", err)
		}
		attempted[id] = true
	}
	return attempted, rows.Err()
}
