package domain

import "errors"

// Sentinel errors for the error kinds the engine distinguishes.
// Callers match with errors.Is; sites add context with fmt.Errorf and %w.
var (
	// ErrInvalidInput rejects a command before any state is mutated
	ErrInvalidInput = errors.New("invalid input")

	// ErrSimulationRunning means the status singleton is already held.
	// Retryable: wait for the running simulation to finish.
	ErrSimulationRunning = errors.New("another simulation is already running")

	// ErrInvariant marks a persisted row or computed result that violates
	// a structural invariant (duplicate rank, cohort oversize, negative
	// trade count). Treated as a fatal programming error.
	ErrInvariant = errors.New("invariant violation")

	// ErrCancelled is returned after an external cancellation; the day in
	// flight completes before the simulation transitions to FAILED.
	ErrCancelled = errors.New("simulation cancelled")

	// ErrNotFound reports a missing simulation or status record
	ErrNotFound = errors.New("not found")
)
