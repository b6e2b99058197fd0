package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound: unknown claimId. Not retriable without a new registration.
	ErrNotFound = errors.New("claim not found")
	// ErrIllegalTransition: stage ordering violated; caller must re-sequence.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrPreconditionFailed: closure attempted before its dependencies
	// resolved.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrConflict: concurrent mutation race; reload and retry.
	ErrConflict = errors.New("claim version conflict")
	// ErrUnknownStage: the tool name is outside the closed set.
	ErrUnknownStage = errors.New("unknown stage")
)

// ValidationIncompleteError is recoverable: the caller supplies the listed
// fields and the loop continues. The stage does not move.
type ValidationIncompleteError struct {
	Missing []string
}

func (e *ValidationIncompleteError) Error() string {
	return "validation incomplete: missing " + strings.Join(e.Missing, ", ")
}

// HandlerFailedError is an external delegate's rejection (including
// timeouts). The stage stays workable so the call can be retried.
type HandlerFailedError struct {
	Reason string
}

func (e *HandlerFailedError) Error() string {
	return fmt.Sprintf("handler failed: %s", e.Reason)
}
