package planning

import "errors"

var (
	// ErrSessionNotFound indicates no session row exists for the requested id.
	ErrSessionNotFound = errors.New("planning session not found")

	// ErrMalformedOracleOutput indicates the oracle answered with something that
	// is not a valid structured result for the current phase. Retryable.
	ErrMalformedOracleOutput = errors.New("malformed oracle output")

	// ErrInvalidTransition indicates the request is not valid for the session's phase.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrPersistenceConflict indicates finalizing the plan failed and nothing was written.
	ErrPersistenceConflict = errors.New("plan persistence conflict")

	// ErrOwnershipMismatch indicates the referenced session belongs to another user.
	ErrOwnershipMismatch = errors.New("session belongs to another user")

	// ErrConcurrentUpdate indicates the session changed since it was read.
	ErrConcurrentUpdate = errors.New("session was updated concurrently")
)
