package report

import (
	"errors"
	"fmt"
)

// Sentinel errors. The string values double as the machine-readable
// error codes returned in submission responses.
var (
	ErrDuplicateID       = errors.New("DuplicateId")
	ErrNotFound          = errors.New("NotFound")
	ErrInvalidTransition = errors.New("InvalidTransition")
	ErrStoreUnavailable  = errors.New("StoreUnavailable")
	ErrPayloadTooLarge   = errors.New("PayloadTooLarge")
	ErrInvalidImage      = errors.New("InvalidImage")
	ErrAlreadyAnalyzed   = errors.New("AlreadyAnalyzed")
)

// ValidationError rejects a submission before any I/O happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ValidationError: %s %s", e.Field, e.Reason)
}

func invalidField(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
