package domain

import (
	"time"

	"github.com/google/uuid"
)

// ContactStatus enumerates the subscription states a contact can be in.
// Only active contacts are eligible send targets.
type ContactStatus string

const (
	ContactStatusActive       ContactStatus = "active"
	ContactStatusUnsubscribed ContactStatus = "unsubscribed"
	ContactStatusBounced      ContactStatus = "bounced"
)

// Contact represents an addressable recipient. It is read-only from the
// orchestrator's perspective; subscription state is mutated by the tracking
// and unsubscribe endpoints, which live outside this system.
type Contact struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	Email     string        `json:"email" db:"email"`
	FirstName string        `json:"first_name" db:"first_name"`
	LastName  string        `json:"last_name" db:"last_name"`
	Status    ContactStatus `json:"status" db:"status"`
	Tags      []string      `json:"tags" db:"tags"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the contact may receive campaign email.
func (c *Contact) IsActive() bool {
	return c.Status == ContactStatusActive
}
