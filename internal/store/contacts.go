package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/campaign-orchestrator/internal/domain"
)

// ContactStore reads contacts and list memberships. The orchestrator only
// ever targets active contacts; the filtered queries here enforce that so
// callers cannot forget it.
type ContactStore struct{ db *sql.DB }

// ByIDs loads full contact rows for a reserved batch. No status filter:
// a contact reserved while active is still dispatched even if their status
// changed mid-send.
func (r *ContactStore) ByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, first_name, last_name, status, tags
		FROM contacts
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("contacts by ids: %w", err)
	}
	defer rows.Close()

	return scanContacts(rows)
}

// ActiveIDs filters the given ids down to contacts that exist and are active.
func (r *ContactStore) ActiveIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM contacts
		WHERE id = ANY($1) AND status = 'active'
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("active contact ids: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// ActiveIDsInList returns active members of a list in membership order.
// limit <= 0 means no cap.
func (r *ContactStore) ActiveIDsInList(ctx context.Context, listID uuid.UUID, limit int) ([]uuid.UUID, error) {
	q := `
		SELECT c.id
		FROM contact_list_members m
		JOIN contacts c ON c.id = m.contact_id
		WHERE m.list_id = $1 AND c.status = 'active'
		ORDER BY m.added_at, c.id`
	args := []interface{}{listID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("active list members: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// ActiveIDsByTags returns active contacts carrying at least one of the tags.
func (r *ContactStore) ActiveIDsByTags(ctx context.Context, tags []string) ([]uuid.UUID, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM contacts
		WHERE status = 'active' AND tags && $1
		ORDER BY created_at, id
	`, pq.Array(tags))
	if err != nil {
		return nil, fmt.Errorf("active contacts by tags: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

func scanContacts(rows *sql.Rows) ([]domain.Contact, error) {
	var out []domain.Contact
	for rows.Next() {
		var c domain.Contact
		if err := rows.Scan(&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.Status, pq.Array(&c.Tags)); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
