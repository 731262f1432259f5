package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/ziplift/ziplift/internal/logger"
	"github.com/ziplift/ziplift/internal/telemetry"
	"github.com/ziplift/ziplift/pkg/archive"
	"github.com/ziplift/ziplift/pkg/blob"
	"github.com/ziplift/ziplift/pkg/bufpool"
	"github.com/ziplift/ziplift/pkg/metrics"
	"github.com/ziplift/ziplift/pkg/upload/models"
	"github.com/ziplift/ziplift/pkg/upload/store"
)

// Service coordinates the upload pipeline. All HTTP handlers and recovery
// sweeps go through it; it owns the invariant that a chunk is marked
// successful only after its bytes are durably in the blob.
type Service struct {
	store    store.Store
	blobs    *blob.Store
	config   Config
	metrics  metrics.UploadMetrics
	finalize singleflight.Group

	// now is replaceable for abandonment tests.
	now func() time.Time
}

// NewService creates the upload service. metrics may be nil.
func NewService(st store.Store, blobs *blob.Store, config Config, m metrics.UploadMetrics) *Service {
	config.ApplyDefaults()
	return &Service{
		store:   st,
		blobs:   blobs,
		config:  config,
		metrics: m,
		now:     time.Now,
	}
}

// InitResult is the response of a session initialization. ChunksReceived
// is the resume manifest: indices the client does not need to resend.
type InitResult struct {
	SessionID      string `json:"session_id"`
	ChunkSize      int64  `json:"chunk_size"`
	TotalChunks    int    `json:"total_chunks"`
	ChunksReceived []int  `json:"uploaded_chunks"`
}

// Initialize creates a new session, or resumes an existing one when
// sessionID is non-empty and refers to a session still accepting chunks.
// totalChunks is client-declared and must agree with the configured chunk
// size.
func (s *Service) Initialize(ctx context.Context, sessionID, filename string, totalSize int64, totalChunks int) (*InitResult, error) {
	if sessionID != "" {
		return s.resume(ctx, sessionID)
	}

	if totalSize <= 0 {
		return nil, fmt.Errorf("%w: total size must be positive, got %d", models.ErrInvalidInput, totalSize)
	}
	if totalChunks <= 0 {
		return nil, fmt.Errorf("%w: total chunks must be positive, got %d", models.ErrInvalidInput, totalChunks)
	}
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: filename is required", models.ErrInvalidInput)
	}
	if !archive.HasExtension(filename) {
		return nil, fmt.Errorf("%w: only %s archives are accepted", models.ErrInvalidInput, archive.Extension)
	}

	session := &models.Session{
		ID:          uuid.New().String(),
		Filename:    filename,
		TotalSize:   totalSize,
		ChunkSize:   s.config.ChunkSize.Int64(),
		TotalChunks: totalChunks,
		Status:      models.StatusUploading,
	}
	// Declared chunk count must agree with the configured chunk size.
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	session.BlobPath = s.blobs.Path(session.ID + archive.Extension)

	// Preallocate before the insert so a session row never points at a
	// missing blob. A blob orphaned by a failed insert is swept later.
	if err := s.blobs.Preallocate(session.BlobPath, totalSize); err != nil {
		return nil, fmt.Errorf("failed to preallocate blob: %w", err)
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		if delErr := s.blobs.Delete(session.BlobPath); delErr != nil {
			logger.Warn("failed to delete blob after session insert failure",
				logger.SessionID(session.ID), logger.Err(delErr))
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordSessionCreated()
	}
	s.refreshActiveSessions(ctx)
	logger.Info("upload session created",
		logger.SessionID(session.ID),
		logger.Filename(filename),
		logger.Size(totalSize),
		"total_chunks", session.TotalChunks)

	return &InitResult{
		SessionID:      session.ID,
		ChunkSize:      session.ChunkSize,
		TotalChunks:    session.TotalChunks,
		ChunksReceived: []int{},
	}, nil
}

// resume re-issues the manifest for an existing uploading session.
func (s *Service) resume(ctx context.Context, sessionID string) (*InitResult, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.StatusUploading {
		return nil, fmt.Errorf("%w: session is %s", models.ErrSessionNotAccepting, session.Status)
	}

	received, err := s.store.ListSuccessfulChunks(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if received == nil {
		received = []int{}
	}

	logger.Info("upload session resumed",
		logger.SessionID(sessionID),
		logger.Progress(int64(len(received)), int64(session.TotalChunks)))

	return &InitResult{
		SessionID:      session.ID,
		ChunkSize:      session.ChunkSize,
		TotalChunks:    session.TotalChunks,
		ChunksReceived: received,
	}, nil
}

// ChunkResult reports the outcome of a chunk ingestion.
type ChunkResult struct {
	SessionID       string `json:"session_id"`
	Index           int    `json:"index"`
	Duplicate       bool   `json:"duplicate"`
	ChunksReceived  int64  `json:"chunks_received"`
	TotalChunks     int64  `json:"total_chunks"`
	FinalizeStarted bool   `json:"finalize_started"`
}

// AcceptChunk ingests one chunk payload. declaredHash, when non-empty, is
// the client's hex SHA-256 of the payload; the payload is then spooled to
// the temp directory and verified before any byte reaches the blob.
//
// The operation is idempotent per (session, index): replays of an
// already-successful chunk drain the body and report Duplicate without
// touching the blob.
func (s *Service) AcceptChunk(ctx context.Context, sessionID string, index int, payload io.Reader, declaredHash string) (*ChunkResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "upload.accept_chunk",
		trace.WithAttributes(
			telemetry.SessionID(sessionID),
			telemetry.ChunkIndex(index),
		))
	defer span.End()

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		s.recordChunk("rejected", 0)
		return nil, err
	}
	if session.Status != models.StatusUploading {
		s.recordChunk("rejected", 0)
		return nil, fmt.Errorf("%w: session is %s", models.ErrSessionNotAccepting, session.Status)
	}
	if !session.ValidIndex(index) {
		s.recordChunk("rejected", 0)
		return nil, fmt.Errorf("%w: index %d, session has %d chunks",
			models.ErrChunkOutOfRange, index, session.TotalChunks)
	}

	chunk, err := s.store.GetChunk(ctx, sessionID, index)
	if err != nil {
		s.recordChunk("rejected", 0)
		return nil, err
	}
	if chunk.Status == models.ChunkSuccess {
		return s.duplicateResult(ctx, session, index)
	}

	wantLen := session.ChunkLength(index)
	written, err := s.writeChunk(session, index, payload, wantLen, declaredHash)
	if err != nil {
		s.recordChunk("rejected", 0)
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	// Commit point. A crash before this line leaves the chunk pending and
	// the client resends; the blob bytes are simply overwritten.
	already, err := s.store.MarkChunkSuccess(ctx, sessionID, index)
	if err != nil {
		return nil, err
	}
	if already {
		// A concurrent replay committed first. Both writers carried
		// identical bytes, so the blob is intact either way.
		return s.duplicateResult(ctx, session, index)
	}
	s.recordChunk("accepted", written)

	total, successful, err := s.store.CountChunks(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	logger.Debug("chunk accepted",
		logger.SessionID(sessionID),
		logger.ChunkIndex(index),
		logger.BytesWritten(written),
		logger.Progress(successful, total))

	result := &ChunkResult{
		SessionID:      sessionID,
		Index:          index,
		ChunksReceived: successful,
		TotalChunks:    total,
	}
	if successful == total {
		result.FinalizeStarted = true
		s.triggerFinalize(sessionID)
	}
	return result, nil
}

func (s *Service) duplicateResult(ctx context.Context, session *models.Session, index int) (*ChunkResult, error) {
	total, successful, err := s.store.CountChunks(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	s.recordChunk("duplicate", 0)
	logger.Debug("duplicate chunk ignored",
		logger.SessionID(session.ID),
		logger.ChunkIndex(index))
	return &ChunkResult{
		SessionID:      session.ID,
		Index:          index,
		Duplicate:      true,
		ChunksReceived: successful,
		TotalChunks:    total,
	}, nil
}

// writeChunk lands the payload at the chunk's offset, enforcing the exact
// expected length. With a declared hash the payload is staged in the temp
// directory first and only verified bytes reach the blob.
func (s *Service) writeChunk(session *models.Session, index int, payload io.Reader, wantLen int64, declaredHash string) (int64, error) {
	offset := session.ChunkOffset(index)

	// Read exactly wantLen bytes and insist the stream ends there.
	limited := io.LimitReader(payload, wantLen+1)

	if declaredHash == "" {
		n, err := s.blobs.WriteAt(session.BlobPath, offset, io.LimitReader(limited, wantLen))
		if err != nil {
			return 0, err
		}
		return n, s.checkLength(limited, n, wantLen, index)
	}

	spool, err := os.CreateTemp(s.tempDir(), "chunk-*.part")
	if err != nil {
		return 0, fmt.Errorf("failed to create spool file: %w", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	hasher := sha256.New()
	buf := bufpool.Get(bufpool.DefaultStreamSize)
	defer bufpool.Put(buf)
	n, err := io.CopyBuffer(spool, io.TeeReader(io.LimitReader(limited, wantLen), hasher), buf)
	if err != nil {
		return 0, fmt.Errorf("failed to spool chunk payload: %w", err)
	}
	if err := s.checkLength(limited, n, wantLen, index); err != nil {
		return 0, err
	}
	if got := hex.EncodeToString(hasher.Sum(nil)); !strings.EqualFold(got, declaredHash) {
		return 0, fmt.Errorf("%w: declared %s, computed %s", models.ErrIntegrity, declaredHash, got)
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to rewind spool file: %w", err)
	}
	return s.blobs.WriteAt(session.BlobPath, offset, spool)
}

// checkLength rejects short and oversized payloads. limited still holds
// the byte beyond wantLen if the client sent one.
func (s *Service) checkLength(limited io.Reader, got, want int64, index int) error {
	if got < want {
		return fmt.Errorf("%w: chunk %d carried %d bytes, want %d",
			models.ErrChunkSizeMismatch, index, got, want)
	}
	var probe [1]byte
	if n, _ := limited.Read(probe[:]); n > 0 {
		return fmt.Errorf("%w: chunk %d payload exceeds %d bytes",
			models.ErrChunkSizeMismatch, index, want)
	}
	return nil
}

func (s *Service) tempDir() string {
	if s.config.TempDir != "" {
		return s.config.TempDir
	}
	return os.TempDir()
}

// triggerFinalize starts finalization off the request path. The trigger is
// advisory: if the process dies before it runs, the recovery sweep finds
// the fully-uploaded session and finalizes it.
func (s *Service) triggerFinalize(sessionID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if _, err := s.Finalize(ctx, sessionID); err != nil {
			logger.Error("background finalization failed",
				logger.SessionID(sessionID), logger.Err(err))
		}
	}()
}

// SessionStatus is the progress snapshot returned by the status endpoint.
type SessionStatus struct {
	SessionID      string     `json:"session_id"`
	Filename       string     `json:"filename"`
	Status         string     `json:"status"`
	TotalSize      int64      `json:"total_size"`
	ChunkSize      int64      `json:"chunk_size"`
	TotalChunks    int64      `json:"total_chunks"`
	ChunksReceived int64      `json:"chunks_received"`
	MissingChunks  []int      `json:"missing_chunks,omitempty"`
	FinalHash      *string    `json:"final_hash,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Status returns the session's progress, including the missing-chunk list
// while the session is still uploading.
func (s *Service) Status(ctx context.Context, sessionID string) (*SessionStatus, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	total, successful, err := s.store.CountChunks(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	status := &SessionStatus{
		SessionID:      session.ID,
		Filename:       session.Filename,
		Status:         string(session.Status),
		TotalSize:      session.TotalSize,
		ChunkSize:      session.ChunkSize,
		TotalChunks:    total,
		ChunksReceived: successful,
		FinalHash:      session.FinalHash,
		CreatedAt:      session.CreatedAt,
		CompletedAt:    session.CompletedAt,
	}

	if session.Status == models.StatusUploading && successful < total {
		received, err := s.store.ListSuccessfulChunks(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		have := make(map[int]struct{}, len(received))
		for _, idx := range received {
			have[idx] = struct{}{}
		}
		missing := make([]int, 0, total-successful)
		for i := 0; i < session.TotalChunks; i++ {
			if _, ok := have[i]; !ok {
				missing = append(missing, i)
			}
		}
		status.MissingChunks = missing
	}
	return status, nil
}

// Contents lists the archive entries of a completed session.
func (s *Service) Contents(ctx context.Context, sessionID string) ([]archive.Entry, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.StatusCompleted {
		return nil, fmt.Errorf("%w: session is %s", models.ErrNotCompleted, session.Status)
	}
	entries, err := archive.List(session.BlobPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive contents: %w", err)
	}
	return entries, nil
}

// BlobPath resolves the on-disk location of a completed session's archive.
func (s *Service) BlobPath(ctx context.Context, sessionID string) (string, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if session.Status != models.StatusCompleted {
		return "", fmt.Errorf("%w: session is %s", models.ErrNotCompleted, session.Status)
	}
	return session.BlobPath, nil
}

func (s *Service) recordChunk(status string, bytes int64) {
	if s.metrics != nil {
		s.metrics.RecordChunk(status, bytes)
	}
}

// refreshActiveSessions re-reads the non-terminal session count so the
// gauge tracks the store, not an in-process delta that restarts would lose.
func (s *Service) refreshActiveSessions(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	count, err := s.store.CountActiveSessions(ctx)
	if err != nil {
		logger.Debug("failed to count active sessions", logger.Err(err))
		return
	}
	s.metrics.SetActiveSessions(int(count))
}

// Ping verifies the dependencies the service needs to serve traffic.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("metadata store unavailable: %w", err)
	}
	return nil
}
