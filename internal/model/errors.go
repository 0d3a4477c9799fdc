package model

import "errors"

// Error kinds returned across the engine. Services wrap these with
// fmt.Errorf("%w: ...") so callers can classify failures with errors.Is
// while keeping a human-readable message.
var (
	// ErrNotFound means a referenced weapon, user, match, or season does
	// not exist (or has expired, for ephemeral match state).
	ErrNotFound = errors.New("not found")

	// ErrInvalidState means the operation is not allowed in the current
	// state: destroyed weapon, max-level weapon, already in a match,
	// settlement window open, no active season.
	ErrInvalidState = errors.New("invalid state")

	// ErrInsufficientFunds means a gold or stone balance is below the
	// required cost.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConflict means a stale or mismatched identifier, e.g. executing
	// a match that belongs to another user.
	ErrConflict = errors.New("conflict")
)
