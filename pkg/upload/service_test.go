package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/ziplift/ziplift/internal/bytesize"
	"github.com/ziplift/ziplift/pkg/blob"
	"github.com/ziplift/ziplift/pkg/upload/models"
	"github.com/ziplift/ziplift/pkg/upload/store"
)

const testChunkSize = 100

func newTestService(t *testing.T) (*Service, *store.GORMStore) {
	t.Helper()

	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	blobs, err := blob.New(blob.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create blob store: %v", err)
	}

	cfg := Config{
		Dir:             t.TempDir(),
		TempDir:         t.TempDir(),
		ChunkSize:       bytesize.ByteSize(testChunkSize),
		AbandonAfter:    24 * time.Hour,
		CleanupInterval: time.Hour,
		PurgeAfter:      7 * 24 * time.Hour,
	}
	return NewService(st, blobs, cfg, nil), st
}

// makeZip builds a valid zip archive padded out with content so it spans
// multiple chunks at the test chunk size.
func makeZip(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	// Stored, not deflated, so the archive size stays predictable.
	f, err := w.CreateHeader(&zip.FileHeader{Name: "data.txt", Method: zip.Store})
	if err != nil {
		t.Fatalf("failed to create zip entry: %v", err)
	}
	if _, err := f.Write(bytes.Repeat([]byte("ziplift test payload\n"), 30)); err != nil {
		t.Fatalf("failed to write zip entry: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close zip writer: %v", err)
	}
	if buf.Len() <= 2*testChunkSize {
		t.Fatalf("test archive too small to span chunks: %d bytes", buf.Len())
	}
	return buf.Bytes()
}

// initSession initializes a session for payload with the chunk count the
// test chunk size implies.
func initSession(t *testing.T, svc *Service, payload []byte) *InitResult {
	t.Helper()
	chunks := (len(payload) + testChunkSize - 1) / testChunkSize
	init, err := svc.Initialize(context.Background(), "", "archive.zip", int64(len(payload)), chunks)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return init
}

// chunkOf slices payload into the chunk at index for the given chunk size.
func chunkOf(payload []byte, index, chunkSize int) []byte {
	start := index * chunkSize
	end := start + chunkSize
	if end > len(payload) {
		end = len(payload)
	}
	return payload[start:end]
}

func uploadAll(t *testing.T, svc *Service, sessionID string, payload []byte, totalChunks int) {
	t.Helper()
	for i := 0; i < totalChunks; i++ {
		data := chunkOf(payload, i, testChunkSize)
		if _, err := svc.AcceptChunk(context.Background(), sessionID, i, bytes.NewReader(data), ""); err != nil {
			t.Fatalf("AcceptChunk(%d) failed: %v", i, err)
		}
	}
}

func TestUploadRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	payload := makeZip(t)

	init := initSession(t, svc, payload)
	if init.ChunkSize != testChunkSize {
		t.Errorf("expected chunk size %d, got %d", testChunkSize, init.ChunkSize)
	}
	wantChunks := (len(payload) + testChunkSize - 1) / testChunkSize
	if init.TotalChunks != wantChunks {
		t.Errorf("expected %d chunks, got %d", wantChunks, init.TotalChunks)
	}

	uploadAll(t, svc, init.SessionID, payload, init.TotalChunks)

	outcome, err := svc.Finalize(ctx, init.SessionID)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if outcome.Status != string(models.StatusCompleted) {
		t.Fatalf("expected completed, got %s", outcome.Status)
	}

	sum := sha256.Sum256(payload)
	if outcome.FinalHash == nil || *outcome.FinalHash != hex.EncodeToString(sum[:]) {
		t.Errorf("final hash mismatch: got %v", outcome.FinalHash)
	}

	entries, err := svc.Contents(ctx, init.SessionID)
	if err != nil {
		t.Fatalf("Contents failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "data.txt" {
		t.Errorf("unexpected archive entries: %+v", entries)
	}
}

func TestUploadOutOfOrder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	payload := makeZip(t)

	init := initSession(t, svc, payload)

	// Upload chunks in reverse.
	for i := init.TotalChunks - 1; i >= 0; i-- {
		data := chunkOf(payload, i, testChunkSize)
		if _, err := svc.AcceptChunk(ctx, init.SessionID, i, bytes.NewReader(data), ""); err != nil {
			t.Fatalf("AcceptChunk(%d) failed: %v", i, err)
		}
	}

	outcome, err := svc.Finalize(ctx, init.SessionID)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if outcome.Status != string(models.StatusCompleted) {
		t.Errorf("expected completed, got %s", outcome.Status)
	}
}

func TestInitializeRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		filename string
		size     int64
	}{
		{"zero size", "archive.zip", 0},
		{"negative size", "archive.zip", -1},
		{"empty filename", "", 100},
		{"wrong extension", "archive.tar", 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Initialize(ctx, "", tt.filename, tt.size, 1)
			if !errors.Is(err, models.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestInitializeRejectsInconsistentChunkCount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// 250 bytes at a 100-byte chunk size is 3 chunks, not 5.
	if _, err := svc.Initialize(ctx, "", "archive.zip", 250, 5); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for wrong chunk count, got %v", err)
	}
	if _, err := svc.Initialize(ctx, "", "archive.zip", 250, 0); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for zero chunks, got %v", err)
	}
}

func TestDuplicateChunkIgnored(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	payload := makeZip(t)

	init := initSession(t, svc, payload)

	data := chunkOf(payload, 0, testChunkSize)
	first, err := svc.AcceptChunk(ctx, init.SessionID, 0, bytes.NewReader(data), "")
	if err != nil {
		t.Fatalf("AcceptChunk failed: %v", err)
	}
	if first.Duplicate {
		t.Error("first delivery reported duplicate")
	}

	second, err := svc.AcceptChunk(ctx, init.SessionID, 0, bytes.NewReader(data), "")
	if err != nil {
		t.Fatalf("replayed AcceptChunk failed: %v", err)
	}
	if !second.Duplicate {
		t.Error("replay not reported as duplicate")
	}
	if second.ChunksReceived != first.ChunksReceived {
		t.Errorf("replay changed progress: %d -> %d", first.ChunksReceived, second.ChunksReceived)
	}
}

func TestConcurrentSameChunk(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	payload := makeZip(t)

	init := initSession(t, svc, payload)

	data := chunkOf(payload, 1, testChunkSize)
	const writers = 8
	var wg sync.WaitGroup
	results := make(chan *ChunkResult, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.AcceptChunk(ctx, init.SessionID, 1, bytes.NewReader(data), "")
			if err != nil {
				t.Errorf("concurrent AcceptChunk failed: %v", err)
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	accepted := 0
	for res := range results {
		if !res.Duplicate {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("expected exactly 1 non-duplicate delivery, got %d", accepted)
	}

	status, err := svc.Status(ctx, init.SessionID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.ChunksReceived != 1 {
		t.Errorf("expected 1 chunk received, got %d", status.ChunksReceived)
	}
}

func TestChunkLengthEnforced(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	payload := makeZip(t)

	init := initSession(t, svc, payload)

	short := chunkOf(payload, 0, testChunkSize)[:10]
	if _, err := svc.AcceptChunk(ctx, init.SessionID, 0, bytes.NewReader(short), ""); !errors.Is(err, models.ErrChunkSizeMismatch) {
		t.Errorf("short payload: expected ErrChunkSizeMismatch, got %v", err)
	}

	long := append(chunkOf(payload, 0, testChunkSize), 0xFF)
	if _, err := svc.AcceptChunk(ctx, init.SessionID, 0, bytes.NewReader(long), ""); !errors.Is(err, models.ErrChunkSizeMismatch) {
		t.Errorf("oversized payload: expected ErrChunkSizeMismatch, got %v", err)
	}

	// A rejected chunk stays pending and the correct payload still lands.
	if _, err := svc.AcceptChunk(ctx, init.SessionID, 0, bytes.NewReader(chunkOf(payload, 0, testChunkSize)), ""); err != nil {
		t.Fatalf("AcceptChunk after rejections failed: %v", err)
	}
}

func TestChunkIndexOutOfRange(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	payload := makeZip(t)

	init := initSession(t, svc, payload)

	for _, idx := range []int{-1, init.TotalChunks} {
		data := chunkOf(payload, 0, testChunkSize)
		if _, err := svc.AcceptChunk(ctx, init.SessionID, idx, bytes.NewReader(data), ""); !errors.Is(err, models.ErrChunkOutOfRange) {
			t.Errorf("index %d: expected ErrChunkOutOfRange, got %v", idx, err)
		}
	}
}

func TestChunkHashVerification(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	payload := makeZip(t)

	init := initSession(t, svc, payload)

	data := chunkOf(payload, 0, testChunkSize)
	sum := sha256.Sum256(data)

	if _, err := svc.AcceptChunk(ctx, init.SessionID, 0, bytes.NewReader(data), "0000000000000000000000000000000000000000000000000000000000000000"); !errors.Is(err, models.ErrIntegrity) {
		t.Errorf("expected ErrIntegrity for wrong hash, got %v", err)
	}

	status, err := svc.Status(ctx, init.SessionID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.ChunksReceived != 0 {
		t.Errorf("rejected chunk counted as received: %d", status.ChunksReceived)
	}

	res, err := svc.AcceptChunk(ctx, init.SessionID, 0, bytes.NewReader(data), hex.EncodeToString(sum[:]))
	if err != nil {
		t.Fatalf("AcceptChunk with correct hash failed: %v", err)
	}
	if res.Duplicate {
		t.Error("verified first delivery reported duplicate")
	}
}

func TestResumeManifest(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	payload := makeZip(t)

	init := initSession(t, svc, payload)

	for _, idx := range []int{0, 2} {
		data := chunkOf(payload, idx, testChunkSize)
		if _, err := svc.AcceptChunk(ctx, init.SessionID, idx, bytes.NewReader(data), ""); err != nil {
			t.Fatalf("AcceptChunk(%d) failed: %v", idx, err)
		}
	}

	resumed, err := svc.Initialize(ctx, init.SessionID, "", 0, 0)
	if err != nil {
		t.Fatalf("resume Initialize failed: %v", err)
	}
	if resumed.SessionID != init.SessionID {
		t.Errorf("resume returned different session id")
	}
	want := []int{0, 2}
	if len(resumed.ChunksReceived) != len(want) {
		t.Fatalf("expected manifest %v, got %v", want, resumed.ChunksReceived)
	}
	for i := range want {
		if resumed.ChunksReceived[i] != want[i] {
			t.Fatalf("expected manifest %v, got %v", want, resumed.ChunksReceived)
		}
	}
}

func TestFinalizeIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	payload := makeZip(t)

	init := initSession(t, svc, payload)
	uploadAll(t, svc, init.SessionID, payload, init.TotalChunks)

	first, err := svc.Finalize(ctx, init.SessionID)
	if err != nil {
		t.Fatalf("first Finalize failed: %v", err)
	}
	second, err := svc.Finalize(ctx, init.SessionID)
	if err != nil {
		t.Fatalf("second Finalize failed: %v", err)
	}

	if first.Status != string(models.StatusCompleted) || second.Status != string(models.StatusCompleted) {
		t.Errorf("expected both completed, got %s and %s", first.Status, second.Status)
	}
	if second.FinalHash == nil || first.FinalHash == nil || *first.FinalHash != *second.FinalHash {
		t.Errorf("final hash changed across finalizations")
	}
}

func TestFinalizeIncompleteResets(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	payload := makeZip(t)

	init := initSession(t, svc, payload)

	// Only the first chunk is present.
	data := chunkOf(payload, 0, testChunkSize)
	if _, err := svc.AcceptChunk(ctx, init.SessionID, 0, bytes.NewReader(data), ""); err != nil {
		t.Fatalf("AcceptChunk failed: %v", err)
	}

	outcome, err := svc.Finalize(ctx, init.SessionID)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if outcome.Status != string(models.StatusUploading) {
		t.Errorf("expected session back in uploading, got %s", outcome.Status)
	}

	session, err := st.GetSession(ctx, init.SessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.Status != models.StatusUploading {
		t.Errorf("expected uploading, got %s", session.Status)
	}
}

func TestFinalizeInvalidArchive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// Correct size, correct chunks, but the bytes are not a zip archive.
	payload := bytes.Repeat([]byte{0xAB}, 3*testChunkSize+17)
	init := initSession(t, svc, payload)
	uploadAll(t, svc, init.SessionID, payload, init.TotalChunks)

	session, err := svc.store.GetSession(ctx, init.SessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}

	outcome, err := svc.Finalize(ctx, init.SessionID)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if outcome.Status != string(models.StatusFailed) {
		t.Errorf("expected failed, got %s", outcome.Status)
	}

	// A failed session keeps no blob.
	exists, err := svc.blobs.Exists(session.BlobPath)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("expected blob to be deleted after failed validation")
	}

	// A failed session accepts nothing further.
	data := chunkOf(payload, 0, testChunkSize)
	if _, err := svc.AcceptChunk(ctx, init.SessionID, 0, bytes.NewReader(data), ""); !errors.Is(err, models.ErrSessionNotAccepting) {
		t.Errorf("expected ErrSessionNotAccepting, got %v", err)
	}
}

func TestChunkRejectedAfterCompletion(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	payload := makeZip(t)

	init := initSession(t, svc, payload)
	uploadAll(t, svc, init.SessionID, payload, init.TotalChunks)
	if _, err := svc.Finalize(ctx, init.SessionID); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	data := chunkOf(payload, 0, testChunkSize)
	if _, err := svc.AcceptChunk(ctx, init.SessionID, 0, bytes.NewReader(data), ""); !errors.Is(err, models.ErrSessionNotAccepting) {
		t.Errorf("expected ErrSessionNotAccepting, got %v", err)
	}
}

func TestStatusReportsMissingChunks(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	payload := makeZip(t)

	init := initSession(t, svc, payload)

	data := chunkOf(payload, 1, testChunkSize)
	if _, err := svc.AcceptChunk(ctx, init.SessionID, 1, bytes.NewReader(data), ""); err != nil {
		t.Fatalf("AcceptChunk failed: %v", err)
	}

	status, err := svc.Status(ctx, init.SessionID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.ChunksReceived != 1 {
		t.Errorf("expected 1 received, got %d", status.ChunksReceived)
	}
	if len(status.MissingChunks) != init.TotalChunks-1 {
		t.Errorf("expected %d missing chunks, got %d", init.TotalChunks-1, len(status.MissingChunks))
	}
	for _, idx := range status.MissingChunks {
		if idx == 1 {
			t.Error("received chunk listed as missing")
		}
	}
}

func TestContentsRequiresCompletion(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	payload := makeZip(t)

	init := initSession(t, svc, payload)

	if _, err := svc.Contents(ctx, init.SessionID); !errors.Is(err, models.ErrNotCompleted) {
		t.Errorf("expected ErrNotCompleted, got %v", err)
	}
}

func TestUnknownSession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Status(ctx, "no-such-session"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("Status: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := svc.AcceptChunk(ctx, "no-such-session", 0, bytes.NewReader(nil), ""); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("AcceptChunk: expected ErrSessionNotFound, got %v", err)
	}
}

// TestDefaultChunkSizeRoundTrip runs a session with the production 5 MiB
// chunk size instead of the small test size, covering the geometry the
// other scenarios scale down.
func TestDefaultChunkSizeRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping multi-megabyte upload in short mode")
	}

	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	blobs, err := blob.New(blob.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create blob store: %v", err)
	}

	cfg := DefaultConfig(t.TempDir())
	svc := NewService(st, blobs, cfg, nil)
	ctx := context.Background()

	// A stored archive just over one default chunk, so the session has a
	// full first chunk and a short final chunk.
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.CreateHeader(&zip.FileHeader{Name: "bulk.bin", Method: zip.Store})
	if err != nil {
		t.Fatalf("failed to create zip entry: %v", err)
	}
	if _, err := f.Write(bytes.Repeat([]byte{0xA5}, int(5*bytesize.MiB)+512)); err != nil {
		t.Fatalf("failed to write zip entry: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close zip writer: %v", err)
	}
	payload := buf.Bytes()

	chunkSize := int(cfg.ChunkSize.Int64())
	totalChunks := (len(payload) + chunkSize - 1) / chunkSize
	if totalChunks != 2 {
		t.Fatalf("expected a 2-chunk session, got %d chunks for %d bytes", totalChunks, len(payload))
	}

	init, err := svc.Initialize(ctx, "", "bulk.zip", int64(len(payload)), totalChunks)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if init.ChunkSize != cfg.ChunkSize.Int64() {
		t.Errorf("expected chunk size %d, got %d", cfg.ChunkSize.Int64(), init.ChunkSize)
	}

	for i := 0; i < totalChunks; i++ {
		data := chunkOf(payload, i, chunkSize)
		if _, err := svc.AcceptChunk(ctx, init.SessionID, i, bytes.NewReader(data), ""); err != nil {
			t.Fatalf("AcceptChunk(%d) failed: %v", i, err)
		}
	}

	outcome, err := svc.Finalize(ctx, init.SessionID)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if outcome.Status != string(models.StatusCompleted) {
		t.Fatalf("expected completed, got %s", outcome.Status)
	}

	sum := sha256.Sum256(payload)
	if outcome.FinalHash == nil || *outcome.FinalHash != hex.EncodeToString(sum[:]) {
		t.Error("final hash does not match uploaded payload")
	}
}

// captureMetrics records every gauge update so tests can observe the
// session lifecycle through the metrics interface.
type captureMetrics struct {
	mu     sync.Mutex
	active []int
}

func (m *captureMetrics) RecordChunk(status string, bytes int64) {}

func (m *captureMetrics) RecordSessionCreated() {}

func (m *captureMetrics) RecordSessionOutcome(outcome string) {}

func (m *captureMetrics) RecordFinalize(v string, d time.Duration) {}

func (m *captureMetrics) RecordSweep(sweep string, sessions int) {}

func (m *captureMetrics) SetActiveSessions(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = append(m.active, count)
}

func (m *captureMetrics) activeValues() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.active...)
}

func TestActiveSessionsGauge(t *testing.T) {
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	blobs, err := blob.New(blob.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create blob store: %v", err)
	}

	cfg := Config{
		Dir:             t.TempDir(),
		TempDir:         t.TempDir(),
		ChunkSize:       bytesize.ByteSize(testChunkSize),
		AbandonAfter:    24 * time.Hour,
		CleanupInterval: time.Hour,
		PurgeAfter:      7 * 24 * time.Hour,
	}
	m := &captureMetrics{}
	svc := NewService(st, blobs, cfg, m)
	ctx := context.Background()
	payload := makeZip(t)

	init := initSession(t, svc, payload)
	if got := m.activeValues(); len(got) == 0 || got[0] != 1 {
		t.Fatalf("expected gauge set to 1 after session creation, got %v", got)
	}

	uploadAll(t, svc, init.SessionID, payload, init.TotalChunks)
	if _, err := svc.Finalize(ctx, init.SessionID); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	got := m.activeValues()
	if got[len(got)-1] != 0 {
		t.Errorf("expected gauge set to 0 after completion, got %v", got)
	}
}
