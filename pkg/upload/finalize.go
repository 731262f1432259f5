package upload

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ziplift/ziplift/internal/logger"
	"github.com/ziplift/ziplift/internal/telemetry"
	"github.com/ziplift/ziplift/pkg/archive"
	"github.com/ziplift/ziplift/pkg/upload/models"
)

// FinalizeOutcome reports how a finalization attempt ended.
type FinalizeOutcome struct {
	SessionID string  `json:"session_id"`
	Status    string  `json:"status"`
	FinalHash *string `json:"final_hash,omitempty"`

	// Acquired is false when another finalizer owned the session; the
	// reported status is then just the current snapshot.
	Acquired bool `json:"-"`
}

// Finalize drives a fully-uploaded session to a terminal state.
//
// In-process duplicates collapse through singleflight; across processes
// the store's uploading -> processing transition admits exactly one owner.
// Losers observe the current session state and report a no-op. The
// expensive verification (full-file hash, archive structure) runs outside
// any database transaction.
func (s *Service) Finalize(ctx context.Context, sessionID string) (*FinalizeOutcome, error) {
	v, err, _ := s.finalize.Do(sessionID, func() (any, error) {
		return s.finalizeOnce(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*FinalizeOutcome), nil
}

func (s *Service) finalizeOnce(ctx context.Context, sessionID string) (*FinalizeOutcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "upload.finalize",
		trace.WithAttributes(telemetry.SessionID(sessionID)))
	defer span.End()

	acquired, err := s.store.AcquireForFinalize(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		session, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return &FinalizeOutcome{
			SessionID: sessionID,
			Status:    string(session.Status),
			FinalHash: session.FinalHash,
		}, nil
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// A finalize trigger can race a recovery reset, so re-check the chunk
	// set while owning the session.
	total, successful, err := s.store.CountChunks(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if successful < total {
		if err := s.store.ResetToUploading(ctx, sessionID); err != nil {
			return nil, err
		}
		return &FinalizeOutcome{
			SessionID: sessionID,
			Status:    string(models.StatusUploading),
			Acquired:  true,
		}, nil
	}

	return s.runChecks(ctx, session)
}

// runChecks verifies the assembled blob and records the verdict. The
// caller must own the session (status processing).
func (s *Service) runChecks(ctx context.Context, session *models.Session) (*FinalizeOutcome, error) {
	start := time.Now()
	log := logger.With(logger.SessionID(session.ID), logger.Filename(session.Filename))

	verdict, hash, checkErr := s.verifyBlob(session)
	telemetry.SetAttributes(ctx, telemetry.Verdict(verdict))
	if checkErr != nil {
		telemetry.RecordError(ctx, checkErr)
	}
	if s.metrics != nil {
		s.metrics.RecordFinalize(verdict, time.Since(start))
	}

	switch verdict {
	case "completed":
		if err := s.store.CompleteSession(ctx, session.ID, hash); err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.RecordSessionOutcome("completed")
		}
		s.refreshActiveSessions(ctx)
		log.Info("upload finalized",
			logger.Size(session.TotalSize),
			"final_hash", hash,
			logger.DurationMs(logger.Duration(start)))
		return &FinalizeOutcome{
			SessionID: session.ID,
			Status:    string(models.StatusCompleted),
			FinalHash: &hash,
			Acquired:  true,
		}, nil

	case "failed":
		// The blob goes first, as in the abandonment sweep: the status
		// update is the commit point, and a crash in between leaves a
		// processing session with a missing blob for the next sweep.
		if err := s.blobs.Delete(session.BlobPath); err != nil {
			log.Error("failed to delete blob of failed upload", logger.Err(err))
		}
		if err := s.store.FailSession(ctx, session.ID); err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.RecordSessionOutcome("failed")
		}
		s.refreshActiveSessions(ctx)
		log.Warn("upload failed validation", logger.Err(checkErr))
		return &FinalizeOutcome{
			SessionID: session.ID,
			Status:    string(models.StatusFailed),
			Acquired:  true,
		}, nil

	default:
		// Transient error: release ownership so a later attempt or the
		// recovery sweep can retry.
		if resetErr := s.store.ResetToUploading(ctx, session.ID); resetErr != nil {
			log.Error("failed to release session after finalize error", logger.Err(resetErr))
		}
		return nil, checkErr
	}
}

// verifyBlob runs the finalization checks and classifies the result:
// "completed", "failed" (content is wrong, terminal), or "error"
// (environment problem, retryable).
func (s *Service) verifyBlob(session *models.Session) (verdict, hash string, err error) {
	size, err := s.blobs.Size(session.BlobPath)
	if err != nil {
		return "error", "", fmt.Errorf("failed to stat blob: %w", err)
	}
	if size != session.TotalSize {
		return "failed", "", fmt.Errorf("blob size %d does not match declared size %d", size, session.TotalSize)
	}

	hash, err = archive.HashFile(session.BlobPath)
	if err != nil {
		return "error", "", fmt.Errorf("failed to hash blob: %w", err)
	}

	if err := archive.Validate(session.BlobPath); err != nil {
		return "failed", "", fmt.Errorf("archive validation failed: %w", err)
	}
	return "completed", hash, nil
}
