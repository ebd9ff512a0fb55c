package domain

import (
	"time"

	"github.com/google/uuid"
)

// EmailMessage is the fully-resolved message ready for a provider client.
// By the time a message reaches this struct, all template substitution,
// unsubscribe link injection, and header generation is complete.
type EmailMessage struct {
	CampaignID  uuid.UUID         `json:"campaign_id"`
	ContactID   uuid.UUID         `json:"contact_id"`
	Email       string            `json:"email"`
	FromName    string            `json:"from_name"`
	FromEmail   string            `json:"from_email"`
	ReplyTo     string            `json:"reply_to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"html_content"`
	TextContent string            `json:"text_content"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// SendResult is returned by a provider client after a successful submission.
// Failures are reported through typed errors, not through this struct.
type SendResult struct {
	MessageID string    `json:"message_id"`
	Provider  string    `json:"provider"`
	SentAt    time.Time `json:"sent_at"`
}
