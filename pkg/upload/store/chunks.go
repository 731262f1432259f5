package store

import (
	"context"
	"time"

	"github.com/ziplift/ziplift/pkg/upload/models"
)

// MarkChunkSuccess is the commit point of chunk ingestion. The update is
// guarded on the pending state so replays of the same chunk, including
// concurrent ones, collapse into a single transition.
func (s *GORMStore) MarkChunkSuccess(ctx context.Context, sessionID string, index int) (bool, error) {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&models.Chunk{}).
		Where("session_id = ? AND idx = ? AND status = ?", sessionID, index, models.ChunkPending).
		Updates(map[string]any{
			"status":      models.ChunkSuccess,
			"received_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return false, nil
	}

	// No row transitioned: either the chunk is already successful or the
	// row does not exist at all.
	var chunk models.Chunk
	if err := s.db.WithContext(ctx).
		Where("session_id = ? AND idx = ?", sessionID, index).
		First(&chunk).Error; err != nil {
		return false, convertNotFoundError(err, models.ErrChunkNotFound)
	}
	return chunk.Status == models.ChunkSuccess, nil
}

func (s *GORMStore) CountChunks(ctx context.Context, sessionID string) (total, successful int64, err error) {
	if err = s.db.WithContext(ctx).Model(&models.Chunk{}).
		Where("session_id = ?", sessionID).
		Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err = s.db.WithContext(ctx).Model(&models.Chunk{}).
		Where("session_id = ? AND status = ?", sessionID, models.ChunkSuccess).
		Count(&successful).Error; err != nil {
		return 0, 0, err
	}
	return total, successful, nil
}

func (s *GORMStore) ListSuccessfulChunks(ctx context.Context, sessionID string) ([]int, error) {
	var indices []int
	if err := s.db.WithContext(ctx).Model(&models.Chunk{}).
		Where("session_id = ? AND status = ?", sessionID, models.ChunkSuccess).
		Order("idx").
		Pluck("idx", &indices).Error; err != nil {
		return nil, err
	}
	return indices, nil
}

// GetChunk returns a single chunk row.
func (s *GORMStore) GetChunk(ctx context.Context, sessionID string, index int) (*models.Chunk, error) {
	var chunk models.Chunk
	if err := s.db.WithContext(ctx).
		Where("session_id = ? AND idx = ?", sessionID, index).
		First(&chunk).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrChunkNotFound)
	}
	return &chunk, nil
}
