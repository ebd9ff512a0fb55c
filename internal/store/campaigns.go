package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/campaign-orchestrator/internal/domain"
)

// CampaignStore persists campaigns.
type CampaignStore struct{ db *sql.DB }

const campaignColumns = `id, name, subject, from_name, from_email, reply_to,
	html_content, plain_content, status, targeting, scheduled_at,
	total_recipients, processed_count, failed_count, percentage,
	last_batch_completed_at, sent_count, delivered_count, open_count,
	click_count, bounce_count, unsubscribe_count,
	started_at, completed_at, created_at, updated_at`

func (r *CampaignStore) Create(ctx context.Context, c *domain.Campaign) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = domain.CampaignStatusDraft
	}

	targeting, err := json.Marshal(c.Targeting)
	if err != nil {
		return fmt.Errorf("marshal targeting: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, name, subject, from_name, from_email, reply_to,
			 html_content, plain_content, status, targeting, scheduled_at,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`, c.ID, c.Name, c.Subject, c.FromName, c.FromEmail, c.ReplyTo,
		c.HTMLContent, c.PlainContent, c.Status, targeting, c.ScheduledAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (r *CampaignStore) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	return scanCampaign(row)
}

func scanCampaign(row *sql.Row) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var targeting []byte
	err := row.Scan(
		&c.ID, &c.Name, &c.Subject, &c.FromName, &c.FromEmail, &c.ReplyTo,
		&c.HTMLContent, &c.PlainContent, &c.Status, &targeting, &c.ScheduledAt,
		&c.Progress.TotalRecipients, &c.Progress.Processed, &c.Progress.Failed,
		&c.Progress.Percentage, &c.Progress.LastBatchCompletedAt,
		&c.Stats.Sent, &c.Stats.Delivered, &c.Stats.Opened,
		&c.Stats.Clicked, &c.Stats.Bounced, &c.Stats.Unsubscribed,
		&c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if len(targeting) > 0 {
		if err := json.Unmarshal(targeting, &c.Targeting); err != nil {
			return nil, fmt.Errorf("unmarshal targeting: %w", err)
		}
	}
	if c.Stats.Delivered > 0 {
		c.Stats.OpenRate = float64(c.Stats.Opened) / float64(c.Stats.Delivered) * 100
		c.Stats.ClickRate = float64(c.Stats.Clicked) / float64(c.Stats.Delivered) * 100
	}
	return c, nil
}

// TransitionStatus moves a campaign to a new status only when its current
// status is one of allowedFrom. It reports whether a row changed, so callers
// can distinguish a real transition from a lost race.
func (r *CampaignStore) TransitionStatus(ctx context.Context, id uuid.UUID, to domain.CampaignStatus, allowedFrom ...domain.CampaignStatus) (bool, error) {
	from := make([]string, len(allowedFrom))
	for i, s := range allowedFrom {
		from[i] = string(s)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)
	`, to, id, pq.Array(from))
	if err != nil {
		return false, fmt.Errorf("transition status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetStatus returns just the campaign's current status.
func (r *CampaignStore) GetStatus(ctx context.Context, id uuid.UUID) (domain.CampaignStatus, error) {
	var status domain.CampaignStatus
	err := r.db.QueryRowContext(ctx,
		`SELECT status FROM campaigns WHERE id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get status: %w", err)
	}
	return status, nil
}

// MarkStarted records the audience size and the start time when a send
// begins. started_at survives resumes because it is only set once.
func (r *CampaignStore) MarkStarted(ctx context.Context, id uuid.UUID, totalRecipients int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET total_recipients = $1,
		    started_at = COALESCE(started_at, NOW()),
		    updated_at = NOW()
		WHERE id = $2
	`, totalRecipients, id)
	if err != nil {
		return fmt.Errorf("mark started: %w", err)
	}
	return nil
}

// UpdateProgress writes ledger-derived progress counters.
func (r *CampaignStore) UpdateProgress(ctx context.Context, id uuid.UUID, p domain.Progress) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET processed_count = $1, failed_count = $2, percentage = $3,
		    last_batch_completed_at = $4, updated_at = NOW()
		WHERE id = $5
	`, p.Processed, p.Failed, p.Percentage, p.LastBatchCompletedAt, id)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// MarkCompleted freezes the final counters and moves the campaign to sent.
// Guarded on status so a concurrent pause or cancel is not overwritten.
func (r *CampaignStore) MarkCompleted(ctx context.Context, id uuid.UUID, sent, failed int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $1, sent_count = $2, bounce_count = $3,
		    completed_at = NOW(), updated_at = NOW()
		WHERE id = $4 AND status = $5
	`, domain.CampaignStatusSent, sent, failed, id, domain.CampaignStatusSending)
	if err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DueScheduled returns campaigns whose scheduled send time has arrived.
func (r *CampaignStore) DueScheduled(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM campaigns
		WHERE status = $1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
		ORDER BY scheduled_at
		LIMIT $3
	`, domain.CampaignStatusScheduled, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due scheduled: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan campaign id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
