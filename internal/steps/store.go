package steps

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run is one durable orchestration run record.
type Run struct {
	ID         uuid.UUID
	CampaignID uuid.UUID
	Attempts   int
	NextRunAt  time.Time
}

// RunStore persists orchestration runs in the send_runs table. A partial
// unique index on campaign_id keeps at most one live (queued or running) run
// per campaign, which is what makes Enqueue idempotent.
type RunStore struct{ db *sql.DB }

// NewRunStore wraps the connection and creates the table on first use.
func NewRunStore(ctx context.Context, db *sql.DB) (*RunStore, error) {
	s := &RunStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RunStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS send_runs (
			id UUID PRIMARY KEY,
			campaign_id UUID NOT NULL,
			status TEXT NOT NULL DEFAULT 'queued',
			attempts INT NOT NULL DEFAULT 0,
			next_run_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_send_runs_live
			ON send_runs (campaign_id) WHERE status IN ('queued', 'running')`,
		`CREATE INDEX IF NOT EXISTS idx_send_runs_due
			ON send_runs (next_run_at) WHERE status = 'queued'`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure send_runs schema: %w", err)
		}
	}
	return nil
}

// Enqueue schedules a run for the campaign, due immediately. If a live run
// already exists this is a no-op.
func (s *RunStore) Enqueue(ctx context.Context, campaignID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO send_runs (id, campaign_id, status, next_run_at, created_at, updated_at)
		VALUES ($1, $2, 'queued', NOW(), NOW(), NOW())
		ON CONFLICT DO NOTHING
	`, uuid.New(), campaignID)
	if err != nil {
		return fmt.Errorf("enqueue run: %w", err)
	}
	return nil
}

// ClaimDue atomically claims up to limit due runs for this process.
// SKIP LOCKED lets multiple runner processes poll the same table without
// fighting over rows.
func (s *RunStore) ClaimDue(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE send_runs
		SET status = 'running', attempts = attempts + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM send_runs
			WHERE status = 'queued' AND next_run_at <= NOW()
			ORDER BY next_run_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, campaign_id, attempts, next_run_at
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.Attempts, &r.NextRunAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Complete finishes a run. note optionally records why.
func (s *RunStore) Complete(ctx context.Context, runID uuid.UUID, note string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE send_runs SET status = 'done', last_error = $1, updated_at = NOW()
		WHERE id = $2
	`, note, runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// Reschedule puts a running run back in the queue, due at the given time.
func (s *RunStore) Reschedule(ctx context.Context, runID uuid.UUID, at time.Time, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE send_runs
		SET status = 'queued', next_run_at = $1, last_error = $2, updated_at = NOW()
		WHERE id = $3
	`, at, lastError, runID)
	if err != nil {
		return fmt.Errorf("reschedule run: %w", err)
	}
	return nil
}

// Fail terminally abandons a run after too many attempts.
func (s *RunStore) Fail(ctx context.Context, runID uuid.UUID, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE send_runs SET status = 'failed', last_error = $1, updated_at = NOW()
		WHERE id = $2
	`, lastError, runID)
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	return nil
}

// RecoverStuck re-queues runs that have sat in running state longer than the
// given age. A run only stays running that long when its process died
// mid-invocation.
func (s *RunStore) RecoverStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE send_runs
		SET status = 'queued', next_run_at = NOW(), updated_at = NOW()
		WHERE status = 'running' AND updated_at < NOW() - $1::interval
	`, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("recover stuck runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// OrphanedSendingCampaigns lists campaigns stuck in sending with no live
// run, which happens when a process dies between finishing a run record and
// its campaign. The scheduler re-enqueues them.
func (s *RunStore) OrphanedSendingCampaigns(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id FROM campaigns c
		WHERE c.status = 'sending'
		  AND NOT EXISTS (
			SELECT 1 FROM send_runs r
			WHERE r.campaign_id = c.id AND r.status IN ('queued', 'running')
		  )
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("orphaned campaigns: %w", err)
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
