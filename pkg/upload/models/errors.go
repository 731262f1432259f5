package models

import "errors"

// Domain errors for the upload coordinator. Handlers map these onto HTTP
// problem responses; everything else surfaces as a 500.
var (
	// ErrSessionNotFound indicates the session id is unknown.
	ErrSessionNotFound = errors.New("upload session not found")

	// ErrChunkNotFound indicates the (session, index) chunk row is missing.
	ErrChunkNotFound = errors.New("chunk not found")

	// ErrDuplicateSession indicates a session id collision on insert.
	ErrDuplicateSession = errors.New("upload session already exists")

	// ErrSessionNotAccepting indicates the session is not in the uploading
	// state, so no chunk may be ingested.
	ErrSessionNotAccepting = errors.New("session is not accepting chunks")

	// ErrChunkOutOfRange indicates the chunk index is outside the session
	// geometry.
	ErrChunkOutOfRange = errors.New("chunk index out of range")

	// ErrChunkSizeMismatch indicates the payload length does not match the
	// expected length for the chunk index.
	ErrChunkSizeMismatch = errors.New("chunk payload length mismatch")

	// ErrIntegrity indicates a client-declared chunk hash did not match the
	// received bytes.
	ErrIntegrity = errors.New("chunk integrity verification failed")

	// ErrInvalidInput indicates malformed session parameters.
	ErrInvalidInput = errors.New("invalid upload parameters")

	// ErrNotCompleted indicates an operation that requires a completed
	// session, such as listing archive contents.
	ErrNotCompleted = errors.New("session is not completed")

	// ErrTerminalStatus indicates an attempted transition out of a terminal
	// state.
	ErrTerminalStatus = errors.New("session is in a terminal state")
)
