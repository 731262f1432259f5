package store

import (
	"context"
	"time"

	"github.com/ziplift/ziplift/pkg/upload/models"
)

// Store is the transactional record of sessions and chunk states.
//
// Implementations must guarantee read-your-writes within a transaction and
// serializability on the AcquireForFinalize path: of any number of
// concurrent acquirers for the same session, exactly one observes true.
type Store interface {
	// CreateSession atomically inserts the session and all of its chunk
	// rows in the pending state; either both tables are written or neither.
	CreateSession(ctx context.Context, session *models.Session) error

	// GetSession returns a snapshot of the session.
	// Returns models.ErrSessionNotFound for unknown ids.
	GetSession(ctx context.Context, id string) (*models.Session, error)

	// ListSessionsByStatus returns all sessions in the given status.
	ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]*models.Session, error)

	// ListSessionsOlderThan returns sessions in the given status created
	// before the cutoff.
	ListSessionsOlderThan(ctx context.Context, status models.SessionStatus, cutoff time.Time) ([]*models.Session, error)

	// CountActiveSessions returns how many sessions are non-terminal
	// (uploading or processing).
	CountActiveSessions(ctx context.Context) (int64, error)

	// MarkChunkSuccess transitions the chunk row to success and stamps
	// received_at. Idempotent: marking an already-successful chunk is a
	// no-op reported via alreadySuccess.
	MarkChunkSuccess(ctx context.Context, sessionID string, index int) (alreadySuccess bool, err error)

	// GetChunk returns a single chunk row.
	// Returns models.ErrChunkNotFound for unknown (session, index) pairs.
	GetChunk(ctx context.Context, sessionID string, index int) (*models.Chunk, error)

	// CountChunks returns the total and successful chunk counts.
	CountChunks(ctx context.Context, sessionID string) (total, successful int64, err error)

	// ListSuccessfulChunks returns the sorted indices of successful chunks.
	ListSuccessfulChunks(ctx context.Context, sessionID string) ([]int, error)

	// AcquireForFinalize attempts the uploading -> processing transition
	// under a row-level lock. Returns true iff this caller won ownership.
	AcquireForFinalize(ctx context.Context, id string) (bool, error)

	// CompleteSession drives processing -> completed, recording the final
	// hash and completion time.
	CompleteSession(ctx context.Context, id, finalHash string) error

	// FailSession drives a non-terminal session to failed. Failing an
	// already-failed session is a no-op; failing a completed session is an
	// error.
	FailSession(ctx context.Context, id string) error

	// ResetToUploading drives processing -> uploading, used by recovery
	// when a session entered processing without all chunks present.
	ResetToUploading(ctx context.Context, id string) error

	// DeleteSession removes the session and all of its chunk rows in one
	// transaction.
	DeleteSession(ctx context.Context, id string) error

	// Ping verifies connectivity for health checks.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}
