// Package models defines the persistent entities of the upload coordinator.
package models

import (
	"fmt"
	"time"
)

// SessionStatus represents the lifecycle state of an upload session.
type SessionStatus string

const (
	// StatusUploading accepts chunks; the initial state.
	StatusUploading SessionStatus = "uploading"
	// StatusProcessing marks exclusive ownership by the finalization
	// pipeline; no new chunks are accepted.
	StatusProcessing SessionStatus = "processing"
	// StatusCompleted is terminal: the blob is verified and final_hash set.
	StatusCompleted SessionStatus = "completed"
	// StatusFailed is terminal: validation failed or the session was reaped.
	StatusFailed SessionStatus = "failed"
)

// IsValid checks if the status is a known SessionStatus.
func (s SessionStatus) IsValid() bool {
	switch s {
	case StatusUploading, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Session is one logical upload attempt. It owns a preallocated blob file
// and a fixed-cardinality set of chunk rows created in the same
// transaction.
type Session struct {
	ID          string        `gorm:"primaryKey;size:36" json:"id"`
	Filename    string        `gorm:"size:255;not null" json:"filename"`
	TotalSize   int64         `gorm:"not null" json:"total_size"`
	ChunkSize   int64         `gorm:"not null" json:"chunk_size"`
	TotalChunks int           `gorm:"not null" json:"total_chunks"`
	Status      SessionStatus `gorm:"size:20;not null;index" json:"status"`
	BlobPath    string        `gorm:"size:512;not null" json:"-"`
	FinalHash   *string       `gorm:"size:64" json:"final_hash,omitempty"`
	CreatedAt   time.Time     `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// TableName returns the table name for Session.
func (Session) TableName() string {
	return "sessions"
}

// ChunkOffset returns the byte offset of chunk index within the blob.
func (s *Session) ChunkOffset(index int) int64 {
	return int64(index) * s.ChunkSize
}

// ChunkLength returns the expected payload length of chunk index. Every
// chunk occupies exactly ChunkSize bytes except the last, which holds the
// remainder.
func (s *Session) ChunkLength(index int) int64 {
	if index == s.TotalChunks-1 {
		return s.TotalSize - int64(s.TotalChunks-1)*s.ChunkSize
	}
	return s.ChunkSize
}

// ValidIndex reports whether index addresses a chunk of this session.
func (s *Session) ValidIndex(index int) bool {
	return index >= 0 && index < s.TotalChunks
}

// Validate checks structural consistency of the session geometry.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if s.Filename == "" {
		return fmt.Errorf("filename is required")
	}
	if s.TotalSize <= 0 {
		return fmt.Errorf("total size must be positive, got %d", s.TotalSize)
	}
	if s.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", s.ChunkSize)
	}
	if s.TotalChunks <= 0 {
		return fmt.Errorf("total chunks must be positive, got %d", s.TotalChunks)
	}
	if !s.Status.IsValid() {
		return fmt.Errorf("invalid session status %q", s.Status)
	}

	want := (s.TotalSize + s.ChunkSize - 1) / s.ChunkSize
	if int64(s.TotalChunks) != want {
		return fmt.Errorf("chunk count %d inconsistent with size %d and chunk size %d (want %d)",
			s.TotalChunks, s.TotalSize, s.ChunkSize, want)
	}
	return nil
}
