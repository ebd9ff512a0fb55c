// Package store holds the PostgreSQL persistence layer. One Store wraps a
// *sql.DB and exposes typed accessors for campaigns, contacts, and the send
// ledger. All multi-row writes go through UNNEST batch statements so a batch
// of several hundred contacts costs one round trip.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Store bundles the Postgres-backed repositories.
type Store struct {
	db *sql.DB

	Campaigns *CampaignStore
	Contacts  *ContactStore
	Ledger    *LedgerStore
}

// Pool carries connection pool settings for Open. Zero fields fall back to
// the defaults below.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (p Pool) withDefaults() Pool {
	if p.MaxOpenConns <= 0 {
		p.MaxOpenConns = 25
	}
	if p.MaxIdleConns <= 0 {
		p.MaxIdleConns = 5
	}
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = 5 * time.Minute
	}
	return p
}

// Open connects to Postgres, verifies the connection, and creates the schema
// if it does not exist.
func Open(ctx context.Context, databaseURL string, pool Pool) (*Store, error) {
	pool = pool.withDefaults()

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := New(db)
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection. Used by tests with sqlmock.
func New(db *sql.DB) *Store {
	return &Store{
		db:        db,
		Campaigns: &CampaignStore{db: db},
		Contacts:  &ContactStore{db: db},
		Ledger:    &LedgerStore{db: db},
	}
}

// DB exposes the underlying connection for components that manage their own
// tables, such as the run scheduler.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS campaigns (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			from_name TEXT NOT NULL DEFAULT '',
			from_email TEXT NOT NULL DEFAULT '',
			reply_to TEXT NOT NULL DEFAULT '',
			html_content TEXT NOT NULL DEFAULT '',
			plain_content TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'draft',
			targeting JSONB NOT NULL DEFAULT '{}',
			scheduled_at TIMESTAMPTZ,
			total_recipients INT NOT NULL DEFAULT 0,
			processed_count INT NOT NULL DEFAULT 0,
			failed_count INT NOT NULL DEFAULT 0,
			percentage INT NOT NULL DEFAULT 0,
			last_batch_completed_at TIMESTAMPTZ,
			sent_count INT NOT NULL DEFAULT 0,
			delivered_count INT NOT NULL DEFAULT 0,
			open_count INT NOT NULL DEFAULT 0,
			click_count INT NOT NULL DEFAULT 0,
			bounce_count INT NOT NULL DEFAULT 0,
			unsubscribe_count INT NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id UUID PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			tags TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS contact_list_members (
			list_id UUID NOT NULL,
			contact_id UUID NOT NULL REFERENCES contacts(id),
			added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (list_id, contact_id)
		)`,
		`CREATE TABLE IF NOT EXISTS send_records (
			campaign_id UUID NOT NULL,
			contact_id UUID NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			provider_message_id TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (campaign_id, contact_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_send_records_status
			ON send_records (campaign_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_tags ON contacts USING GIN (tags)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
