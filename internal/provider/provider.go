// Package provider contains the email provider clients used by the
// dispatcher. Providers expose a single-send operation; the distinction the
// orchestrator cares about is encoded in the error type: a RateLimitError is
// retryable at the batch level, any other SendError is a permanent
// per-contact failure.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/campaign-orchestrator/internal/domain"
)

// Sender submits one fully-resolved email to an external provider.
type Sender interface {
	// Name identifies the provider in logs and ledger metadata.
	Name() string
	// Send submits the message. On success the result carries the provider
	// message id. On failure the error is either a *RateLimitError (the
	// whole batch should back off and retry) or a *SendError (permanent for
	// this contact).
	Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)
}

// RateLimitError reports that the provider refused the submission because we
// are sending too fast. RetryAfter is the provider's hint; zero means the
// provider gave none and the caller should apply its own backoff.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limited", e.Provider)
}

// SendError is a permanent per-contact provider failure. It is recorded in
// the ledger and never retried automatically.
type SendError struct {
	Provider string
	Code     string
	Message  string
}

func (e *SendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s send failed (%s): %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s send failed: %s", e.Provider, e.Message)
}

// IsRateLimit reports whether err is (or wraps) a provider rate limit.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// RetryAfter extracts the retry-after hint from a rate limit error chain,
// or zero if err is not a rate limit.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
