// Package bufpool provides a tiered buffer pool for chunk I/O.
//
// Every chunk upload streams megabytes from the request body into the
// blob file (and, for hash-verified chunks, through a spool file first).
// Doing that with fresh copy buffers per request creates constant GC
// pressure under concurrent uploads, so the hot paths borrow their
// buffers here instead.
//
// The pool uses three size tiers:
//   - Small buffers (4KB): metadata fields and control payloads
//   - Stream buffers (128KB): io.CopyBuffer workspaces for chunk bodies
//   - Chunk buffers (1MB): bulk staging when a whole piece is in memory
//
// Requests larger than the chunk tier are allocated directly and never
// pooled, so an oversized one-off cannot pin memory for the process
// lifetime.
//
// All operations are safe for concurrent use.
package bufpool

import (
	"sync"
)

// Default buffer size classes.
// These can be overridden when creating a custom pool with NewPool.
const (
	// DefaultSmallSize covers metadata fields and small payloads (4KB)
	DefaultSmallSize = 4 << 10

	// DefaultStreamSize is the copy-buffer size for streaming chunk
	// bodies (128KB)
	DefaultStreamSize = 128 << 10

	// DefaultChunkSize covers in-memory staging of chunk pieces (1MB)
	DefaultChunkSize = 1 << 20
)

// Pool manages a set of byte slice pools organized by size class.
// It selects the appropriate class for the requested size and falls back
// to direct allocation for oversized requests.
type Pool struct {
	small      sync.Pool
	stream     sync.Pool
	chunk      sync.Pool
	smallSize  int
	streamSize int
	chunkSize  int
}

// Config holds configuration for creating a custom buffer pool.
type Config struct {
	// SmallSize is the size of small buffers (default: 4KB)
	SmallSize int

	// StreamSize is the size of stream copy buffers (default: 128KB)
	StreamSize int

	// ChunkSize is the size of chunk staging buffers (default: 1MB)
	ChunkSize int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		SmallSize:  DefaultSmallSize,
		StreamSize: DefaultStreamSize,
		ChunkSize:  DefaultChunkSize,
	}
}

// NewPool creates a new buffer pool with the given configuration.
// If config is nil, default values are used.
func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		defaultCfg := DefaultConfig()
		cfg = &defaultCfg
	}

	if cfg.SmallSize <= 0 {
		cfg.SmallSize = DefaultSmallSize
	}
	if cfg.StreamSize <= 0 {
		cfg.StreamSize = DefaultStreamSize
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}

	p := &Pool{
		smallSize:  cfg.SmallSize,
		streamSize: cfg.StreamSize,
		chunkSize:  cfg.ChunkSize,
	}

	p.small = sync.Pool{
		New: func() any {
			buf := make([]byte, p.smallSize)
			return &buf
		},
	}
	p.stream = sync.Pool{
		New: func() any {
			buf := make([]byte, p.streamSize)
			return &buf
		},
	}
	p.chunk = sync.Pool{
		New: func() any {
			buf := make([]byte, p.chunkSize)
			return &buf
		},
	}

	return p
}

// Get returns a byte slice of at least the requested size. The slice
// capacity may exceed the request to align with pool size classes.
//
// The caller must call Put() when finished so the buffer returns to the
// pool. Sizes larger than the chunk tier are allocated directly and not
// pooled.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= p.smallSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= p.streamSize:
		bufPtr = p.stream.Get().(*[]byte)
	case size <= p.chunkSize:
		bufPtr = p.chunk.Get().(*[]byte)
	default:
		// Oversized requests bypass the pool entirely.
		buf := make([]byte, size)
		return buf
	}

	// Slice to the exact requested length, backed by the pooled buffer
	buf := *bufPtr
	return buf[:size]
}

// Put returns a buffer to the pool for reuse.
// The buffer must have been obtained from Get() and must not be used
// after Put(). Buffers that do not match a size class are left for the
// garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	switch cap(buf) {
	case p.smallSize:
		// Reset length to full capacity for next use
		fullBuf := buf[:cap(buf)]
		p.small.Put(&fullBuf)
	case p.streamSize:
		fullBuf := buf[:cap(buf)]
		p.stream.Put(&fullBuf)
	case p.chunkSize:
		fullBuf := buf[:cap(buf)]
		p.chunk.Put(&fullBuf)
	default:
		return
	}
}

// globalPool is the package-level buffer pool with default configuration.
var globalPool = NewPool(nil)

// Get returns a byte slice of at least the requested size from the global pool.
//
// Usage:
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
//	// ... use buf ...
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer to the global pool.
// Always pair this with Get() using defer to ensure buffers are returned.
func Put(buf []byte) {
	globalPool.Put(buf)
}
