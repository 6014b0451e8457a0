package memory

import "errors"

// Error taxonomy. Callers match with errors.Is; every user-visible failure
// wraps one of these with the offending field or id.
var (
	// ErrNotFound is returned for update/history/delete on a missing or
	// already-purged id.
	ErrNotFound = errors.New("not found")

	// ErrPreconditionFailed covers promote below threshold, invalid state
	// transitions, and relations with missing endpoints.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrInvalidArgument is returned for unknown enum values. Validation
	// happens before any mutation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStorageFailure wraps durable-write errors. Always surfaced, never
	// swallowed.
	ErrStorageFailure = errors.New("storage failure")

	// ErrEmbeddingUnavailable signals that the embedding provider failed.
	// Recall degrades to keyword+fuzzy+graph instead of failing.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
)
