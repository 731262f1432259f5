package upload

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ziplift/ziplift/internal/logger"
	"github.com/ziplift/ziplift/pkg/upload/models"
)

// Recovery repairs state left behind by crashes and client abandonment.
// Every sweep is idempotent and safe to run concurrently with ingestion;
// the store's guarded transitions make double application a no-op.
type Recovery struct {
	service *Service
	cron    *cron.Cron
}

// NewRecovery creates the recovery service around an upload service.
func NewRecovery(service *Service) *Recovery {
	return &Recovery{
		service: service,
		cron:    cron.New(),
	}
}

// Start runs one sweep immediately, then schedules periodic sweeps at the
// configured cleanup interval. It blocks until the context is cancelled.
func (r *Recovery) Start(ctx context.Context) error {
	r.RunOnce(ctx)

	spec := "@every " + r.service.config.CleanupInterval.String()
	if _, err := r.cron.AddFunc(spec, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), r.service.config.CleanupInterval)
		defer cancel()
		r.RunOnce(sweepCtx)
	}); err != nil {
		return err
	}

	r.cron.Start()
	<-ctx.Done()

	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	return nil
}

// RunOnce executes all sweeps sequentially. Failures in one sweep are
// logged and do not block the others.
func (r *Recovery) RunOnce(ctx context.Context) {
	start := time.Now()
	r.sweepInterrupted(ctx)
	r.sweepCompletable(ctx)
	r.sweepAbandoned(ctx)
	r.sweepPurgeable(ctx)
	r.service.refreshActiveSessions(ctx)
	logger.Debug("recovery pass finished", logger.DurationMs(logger.Duration(start)))
}

// sweepInterrupted handles sessions stranded in processing by a crash
// between acquisition and the verdict. The blob decides: missing means
// failed, incomplete chunk set means back to uploading, otherwise the
// checks run again.
func (r *Recovery) sweepInterrupted(ctx context.Context) {
	sessions, err := r.service.store.ListSessionsByStatus(ctx, models.StatusProcessing)
	if err != nil {
		logger.Error("recovery sweep failed to list processing sessions", logger.Err(err))
		return
	}

	touched := 0
	for _, session := range sessions {
		log := logger.With(logger.SessionID(session.ID), logger.Sweep("interrupted"))

		exists, err := r.service.blobs.Exists(session.BlobPath)
		if err != nil {
			log.Error("failed to check blob", logger.Err(err))
			continue
		}
		if !exists {
			if err := r.service.store.FailSession(ctx, session.ID); err != nil {
				log.Error("failed to fail session with missing blob", logger.Err(err))
				continue
			}
			log.Warn("session failed, blob missing")
			touched++
			continue
		}

		total, successful, err := r.service.store.CountChunks(ctx, session.ID)
		if err != nil {
			log.Error("failed to count chunks", logger.Err(err))
			continue
		}
		if successful < total {
			if err := r.service.store.ResetToUploading(ctx, session.ID); err != nil {
				log.Error("failed to reset session", logger.Err(err))
				continue
			}
			log.Info("session returned to uploading",
				logger.Progress(successful, total))
			touched++
			continue
		}

		if _, err := r.service.runChecks(ctx, session); err != nil {
			log.Error("re-run of finalization checks failed", logger.Err(err))
			continue
		}
		log.Info("interrupted finalization re-run")
		touched++
	}
	r.recordSweep("interrupted", touched)
}

// sweepCompletable finalizes uploading sessions whose chunk set is already
// complete, covering finalize triggers lost to a crash.
func (r *Recovery) sweepCompletable(ctx context.Context) {
	sessions, err := r.service.store.ListSessionsByStatus(ctx, models.StatusUploading)
	if err != nil {
		logger.Error("recovery sweep failed to list uploading sessions", logger.Err(err))
		return
	}

	touched := 0
	for _, session := range sessions {
		total, successful, err := r.service.store.CountChunks(ctx, session.ID)
		if err != nil {
			logger.Error("failed to count chunks",
				logger.SessionID(session.ID), logger.Sweep("completable"), logger.Err(err))
			continue
		}
		if successful < total {
			continue
		}
		if _, err := r.service.Finalize(ctx, session.ID); err != nil {
			logger.Error("recovery finalization failed",
				logger.SessionID(session.ID), logger.Sweep("completable"), logger.Err(err))
			continue
		}
		logger.Info("fully-uploaded session finalized",
			logger.SessionID(session.ID), logger.Sweep("completable"))
		touched++
	}
	r.recordSweep("completable", touched)
}

// sweepAbandoned reaps uploading sessions past the abandonment timeout and
// sessions whose blob vanished underneath them. The blob is deleted before
// the status flips, so a crash mid-sweep re-runs harmlessly.
func (r *Recovery) sweepAbandoned(ctx context.Context) {
	cutoff := r.service.now().Add(-r.service.config.AbandonAfter)
	sessions, err := r.service.store.ListSessionsByStatus(ctx, models.StatusUploading)
	if err != nil {
		logger.Error("recovery sweep failed to list uploading sessions", logger.Err(err))
		return
	}

	touched := 0
	for _, session := range sessions {
		log := logger.With(logger.SessionID(session.ID), logger.Sweep("abandoned"))

		abandoned := session.CreatedAt.Before(cutoff)
		if !abandoned {
			exists, err := r.service.blobs.Exists(session.BlobPath)
			if err != nil {
				log.Error("failed to check blob", logger.Err(err))
				continue
			}
			if exists {
				continue
			}
			log.Warn("blob vanished under uploading session")
		}

		if err := r.service.blobs.Delete(session.BlobPath); err != nil {
			log.Error("failed to delete blob", logger.Err(err))
			continue
		}
		if err := r.service.store.FailSession(ctx, session.ID); err != nil {
			log.Error("failed to fail session", logger.Err(err))
			continue
		}
		if r.service.metrics != nil {
			r.service.metrics.RecordSessionOutcome("failed")
		}
		log.Info("session reaped", "created_at", session.CreatedAt)
		touched++
	}
	r.recordSweep("abandoned", touched)
}

// sweepPurgeable destroys failed sessions past the retention window,
// together with any blob left behind.
func (r *Recovery) sweepPurgeable(ctx context.Context) {
	cutoff := r.service.now().Add(-r.service.config.PurgeAfter)
	sessions, err := r.service.store.ListSessionsOlderThan(ctx, models.StatusFailed, cutoff)
	if err != nil {
		logger.Error("recovery sweep failed to list failed sessions", logger.Err(err))
		return
	}

	touched := 0
	for _, session := range sessions {
		log := logger.With(logger.SessionID(session.ID), logger.Sweep("purgeable"))

		if err := r.service.blobs.Delete(session.BlobPath); err != nil {
			log.Error("failed to delete blob", logger.Err(err))
			continue
		}
		if err := r.service.store.DeleteSession(ctx, session.ID); err != nil {
			log.Error("failed to delete session rows", logger.Err(err))
			continue
		}
		log.Info("failed session purged", "created_at", session.CreatedAt)
		touched++
	}
	r.recordSweep("purgeable", touched)
}

func (r *Recovery) recordSweep(sweep string, sessions int) {
	if r.service.metrics != nil {
		r.service.metrics.RecordSweep(sweep, sessions)
	}
}
