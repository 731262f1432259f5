package metrics

import "time"

// UploadMetrics provides observability for the upload pipeline.
//
// Implementations collect metrics about chunk ingestion, session lifecycle,
// finalization, and recovery sweeps. This interface is optional - pass nil
// to disable metrics collection with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	m := prometheus.NewUploadMetrics()
//	svc := upload.NewService(store, blobs, cfg, m)
//
//	// Without metrics (pass nil for zero overhead)
//	svc := upload.NewService(store, blobs, cfg, nil)
type UploadMetrics interface {
	// RecordChunk records a completed chunk ingestion attempt.
	//
	// Parameters:
	//   - status: "accepted", "duplicate", or "rejected"
	//   - bytes: chunk payload size; counted toward throughput only when accepted
	RecordChunk(status string, bytes int64)

	// RecordSessionCreated increments the created-sessions counter.
	RecordSessionCreated()

	// RecordSessionOutcome records a session reaching a terminal state.
	//
	// Parameters:
	//   - outcome: "completed" or "failed"
	RecordSessionOutcome(outcome string)

	// RecordFinalize records one finalization run with its duration and
	// verdict ("completed", "failed", or "error").
	RecordFinalize(verdict string, duration time.Duration)

	// RecordSweep records one recovery sweep pass and how many sessions
	// it touched.
	RecordSweep(sweep string, sessions int)

	// SetActiveSessions updates the gauge of sessions currently accepting
	// chunks.
	SetActiveSessions(count int)
}
