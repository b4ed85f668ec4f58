package persistence

import "errors"

var (
	// ErrValidation indicates malformed input to a creation or append call.
	// Never retried automatically; the caller must fix its input.
	ErrValidation = errors.New("validation failed")

	// ErrMissionNotFound indicates the referenced mission does not exist.
	ErrMissionNotFound = errors.New("mission not found")

	// ErrBudgetExceeded indicates the mission has exhausted its cost
	// allowance under hard enforcement.
	ErrBudgetExceeded = errors.New("mission budget exceeded")

	// ErrIncompatibleSchema indicates the store schema is newer than this
	// binary expects. Fatal; requires a deployment fix.
	ErrIncompatibleSchema = errors.New("incompatible schema version")
)
