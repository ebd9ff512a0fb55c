package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound          = errors.New("campaign not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrMissingContent    = errors.New("campaign is missing subject or content")
	ErrMissingTargeting  = errors.New("campaign has no targeting rule")
)
