package models

import "time"

// ChunkStatus represents the delivery state of a single chunk.
type ChunkStatus string

const (
	// ChunkPending means the chunk bytes have not been committed yet.
	ChunkPending ChunkStatus = "pending"
	// ChunkSuccess means the chunk bytes are durably in the blob. A chunk
	// transitions pending -> success at most once and never back.
	ChunkSuccess ChunkStatus = "success"
)

// Chunk is one (session, index) transfer unit. The full set of rows for a
// session is materialized at session creation, so progress queries are a
// plain count and never need gap arithmetic.
type Chunk struct {
	SessionID  string      `gorm:"primaryKey;size:36" json:"session_id"`
	Idx        int         `gorm:"primaryKey;column:idx" json:"index"`
	Status     ChunkStatus `gorm:"size:20;not null;index" json:"status"`
	ReceivedAt *time.Time  `json:"received_at,omitempty"`
}

// TableName returns the table name for Chunk.
func (Chunk) TableName() string {
	return "chunks"
}
