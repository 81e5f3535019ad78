package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/fotopedia-grab/internal/item"
	"github.com/JakeFAU/fotopedia-grab/internal/sanity"
	"github.com/JakeFAU/fotopedia-grab/internal/workspace"
)

// StageError is the terminal Failed(stage, reason) of an item.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage returns the stage name carried by err, or "".
func FailedStage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// IsFatal reports whether err must stop the whole worker process rather than just the item:
// suspected DNS interception, or a workspace root that cannot be prepared.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sanity.ErrInterceptionSuspected) {
		return true
	}
	return FailedStage(err) == StageWorkspace
}

// IsRetryable reports whether restarting the item from Claimed could succeed.
// Bad identifiers and a misconfigured fetch tool need an operator instead.
// A report failure comes after delivery, so only the in-place report retry applies.
func IsRetryable(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	if FailedStage(err) == StageReport {
		return false
	}
	switch {
	case errors.Is(err, item.ErrUnknownItemType),
		errors.Is(err, item.ErrMalformedIdentifier),
		errors.Is(err, workspace.ErrInvariantViolation),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
