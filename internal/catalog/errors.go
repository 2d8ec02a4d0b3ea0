package catalog

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every pipeline stage.
var (
	// ErrNotFound means a code or URL had no match on a site or in the store.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedSite means a URL matched no known marketplace.
	ErrUnsupportedSite = errors.New("unsupported site")

	// ErrExternalAPI marks marketplace outages, quota errors and malformed responses.
	ErrExternalAPI = errors.New("external api error")

	// ErrValidation marks malformed codes, URLs or candidates.
	ErrValidation = errors.New("validation error")

	// ErrPersistenceConflict means an insert lost a unique-key race.
	ErrPersistenceConflict = errors.New("persistence conflict")

	// ErrTaskRetryExhausted means a scheduled job failed on every attempt.
	ErrTaskRetryExhausted = errors.New("task retry exhausted")
)

// ExternalAPIError describes a failed marketplace call.
type ExternalAPIError struct {
	Site   SiteID
	Op     string
	Status int
	Err    error
}

func (e *ExternalAPIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Site, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Site, e.Op, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *ExternalAPIError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrExternalAPI.
func (e *ExternalAPIError) Is(target error) bool { return target == ErrExternalAPI }

// ValidationError describes rejected input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is match ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
