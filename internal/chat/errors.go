package chat

import (
	"errors"
	"fmt"
)

// Error classes surfaced to the transport adapters. Store failures are
// returned wrapped but unclassified and map to an internal error.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
)

// ErrBlocked rejects traffic between users with a block edge in either
// direction. It is a Forbidden error.
var ErrBlocked = fmt.Errorf("%w: users are blocked", ErrForbidden)

func validationError(reason string) error {
	return fmt.Errorf("%w: %s", ErrValidation, reason)
}
