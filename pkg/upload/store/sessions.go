package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ziplift/ziplift/pkg/upload/models"
)

// chunkBatchSize bounds the multi-row insert at session creation so very
// large sessions do not exceed the backend's bind-variable limits.
const chunkBatchSize = 500

func (s *GORMStore) CreateSession(ctx context.Context, session *models.Session) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("%w: %s", models.ErrInvalidInput, err)
	}

	chunks := make([]models.Chunk, session.TotalChunks)
	for i := range chunks {
		chunks[i] = models.Chunk{
			SessionID: session.ID,
			Idx:       i,
			Status:    models.ChunkPending,
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			if isUniqueConstraintError(err) {
				return models.ErrDuplicateSession
			}
			return err
		}
		if err := tx.CreateInBatches(chunks, chunkBatchSize).Error; err != nil {
			return err
		}
		return nil
	})
}

func (s *GORMStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrSessionNotFound)
	}
	return &session, nil
}

func (s *GORMStore) ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]*models.Session, error) {
	var sessions []*models.Session
	if err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *GORMStore) ListSessionsOlderThan(ctx context.Context, status models.SessionStatus, cutoff time.Time) ([]*models.Session, error) {
	var sessions []*models.Session
	if err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", status, cutoff).
		Order("created_at").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *GORMStore) CountActiveSessions(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("status IN ?", []models.SessionStatus{models.StatusUploading, models.StatusProcessing}).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// AcquireForFinalize performs the uploading -> processing transition.
//
// The row is read under a FOR UPDATE lock so concurrent acquirers on
// PostgreSQL serialize here. SQLite ignores the locking clause, so the
// update itself carries a status guard and RowsAffected adjudicates the
// race; on both backends exactly one caller wins.
func (s *GORMStore) AcquireForFinalize(ctx context.Context, id string) (bool, error) {
	var acquired bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&session).Error; err != nil {
			return convertNotFoundError(err, models.ErrSessionNotFound)
		}

		if session.Status != models.StatusUploading {
			// Another finalizer owns the session, or it is terminal.
			return nil
		}

		result := tx.Model(&models.Session{}).
			Where("id = ? AND status = ?", id, models.StatusUploading).
			Update("status", models.StatusProcessing)
		if result.Error != nil {
			return result.Error
		}
		acquired = result.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

func (s *GORMStore) CompleteSession(ctx context.Context, id, finalHash string) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND status = ?", id, models.StatusProcessing).
		Updates(map[string]any{
			"status":       models.StatusCompleted,
			"final_hash":   finalHash,
			"completed_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		session, err := s.GetSession(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("cannot complete session %s in status %s", id, session.Status)
	}
	return nil
}

func (s *GORMStore) FailSession(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND status IN ?", id, []models.SessionStatus{models.StatusUploading, models.StatusProcessing}).
		Update("status", models.StatusFailed)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		session, err := s.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if session.Status == models.StatusFailed {
			return nil // already failed, idempotent
		}
		return fmt.Errorf("%w: cannot fail session %s in status %s", models.ErrTerminalStatus, id, session.Status)
	}
	return nil
}

func (s *GORMStore) ResetToUploading(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND status = ?", id, models.StatusProcessing).
		Update("status", models.StatusUploading)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		session, err := s.GetSession(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("cannot reset session %s in status %s", id, session.Status)
	}
	return nil
}

// DeleteSession removes the session and its chunk rows together. The
// deletion is explicit for both tables because SQLite does not enforce
// foreign-key cascades by default.
func (s *GORMStore) DeleteSession(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.Session
		if err := tx.Where("id = ?", id).First(&session).Error; err != nil {
			return convertNotFoundError(err, models.ErrSessionNotFound)
		}
		if err := tx.Where("session_id = ?", id).Delete(&models.Chunk{}).Error; err != nil {
			return err
		}
		return tx.Delete(&session).Error
	})
}
