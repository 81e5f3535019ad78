// Package queue defines where workers claim item identifiers from.
// The tracker client serves production runs; the memory queue serves local runs.
package queue

import (
	"context"
	"errors"
)

var (
	// ErrEmpty means no identifier is available right now; callers back off and retry.
	ErrEmpty = errors.New("no item available")
	// ErrDrained means the source will never produce another identifier.
	ErrDrained = errors.New("item source drained")
)

// Source hands out item identifiers, one claim at a time.
type Source interface {
	Claim(ctx context.Context) (string, error)
}
