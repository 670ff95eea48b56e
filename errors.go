package guard

import (
	"errors"
	"fmt"
)

// ErrAccessDenied is the sentinel wrapped by every AccessDeniedError so
// callers can match denials with errors.Is.
var ErrAccessDenied = errors.New("access denied")

// AccessDeniedError is raised by EnsureAuthorized when a check comes back
// negative. The Reason is the same human-readable denial reason carried by
// the Result.
type AccessDeniedError struct {
	Resource string
	Action   string
	Reason   string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied for %s on %s: %s", e.Action, e.Resource, e.Reason)
}

func (e *AccessDeniedError) Unwrap() error { return ErrAccessDenied }

// StoreError wraps a collaborator failure (attribute store, rule repository,
// policy engine). It is the one condition that surfaces as an error from a
// check: without data the engine can default to neither allow nor deny.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
