package telemetry

import "go.opentelemetry.io/otel/attribute"

// Typed span attribute constructors for the upload domain, mirroring the
// field helpers in internal/logger so traces and logs share names.

// SessionID identifies an upload session.
func SessionID(id string) attribute.KeyValue {
	return attribute.String("session_id", id)
}

// ChunkIndex identifies a chunk within a session.
func ChunkIndex(idx int) attribute.KeyValue {
	return attribute.Int("chunk_index", idx)
}

// Verdict is a finalization outcome classification.
func Verdict(v string) attribute.KeyValue {
	return attribute.String("verdict", v)
}
