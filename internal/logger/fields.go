package logger

import (
	"log/slog"
	"time"
)

// Typed field constructors for the upload domain. Using these instead of
// bare key-value pairs keeps attribute names consistent across the codebase
// so log aggregation queries do not have to guess.

// SessionID identifies an upload session.
func SessionID(id string) slog.Attr {
	return slog.String("session_id", id)
}

// ChunkIndex identifies a chunk within a session.
func ChunkIndex(idx int) slog.Attr {
	return slog.Int("chunk_index", idx)
}

// Filename is the client-supplied display filename.
func Filename(name string) slog.Attr {
	return slog.String("filename", name)
}

// Path is a filesystem path.
func Path(p string) slog.Attr {
	return slog.String("path", p)
}

// Offset is a byte offset within the blob.
func Offset(off int64) slog.Attr {
	return slog.Int64("offset", off)
}

// Size is a byte length.
func Size(n int64) slog.Attr {
	return slog.Int64("size", n)
}

// BytesWritten is the number of bytes written by an I/O operation.
func BytesWritten(n int64) slog.Attr {
	return slog.Int64("bytes_written", n)
}

// Status is a session or HTTP status rendered as a string.
func Status(s string) slog.Attr {
	return slog.String("status", s)
}

// Progress reports completed out of total chunks.
func Progress(completed, total int64) slog.Attr {
	return slog.Group("progress",
		slog.Int64("completed", completed),
		slog.Int64("total", total),
	)
}

// Sweep names a recovery sweep.
func Sweep(name string) slog.Attr {
	return slog.String("sweep", name)
}

// Count is a generic cardinality.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// DurationMs is an elapsed time in milliseconds (see Duration).
func DurationMs(ms float64) slog.Attr {
	return slog.Float64("duration_ms", ms)
}

// Duration converts the time elapsed since start to fractional
// milliseconds, for use with DurationMs.
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// Err wraps an error value. A nil error renders as "<nil>".
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}
