package orchestrator

import (
	"errors"
	"fmt"
)

// ErrNoRecipients means target resolution produced an empty audience. The
// run aborts and the campaign is returned to draft; an empty audience is a
// configuration problem, not something a retry can fix.
var ErrNoRecipients = errors.New("campaign has no recipients")

// ValidationError reports campaign content or targeting that cannot be sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid campaign: %s %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a campaign validation failure,
// including ErrNoRecipients.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrNoRecipients)
}
