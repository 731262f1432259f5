// Package blob provides offset-addressed file storage for reassembled
// uploads.
//
// A blob is preallocated to its final size at session creation, so chunk
// writers can land payloads at index*chunkSize without ever extending the
// file. Writers addressing disjoint offset ranges need no coordination;
// overlapping ranges are a caller contract violation.
package blob

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ziplift/ziplift/pkg/bufpool"
)

// Store is a filesystem-backed blob store rooted at a single directory.
type Store struct {
	dir      string
	fileMode os.FileMode
}

// Config holds configuration for the blob store.
type Config struct {
	// Dir is the root directory for blob files.
	Dir string

	// DirMode is the permission mode for the created root directory.
	// Default: 0755
	DirMode os.FileMode

	// FileMode is the permission mode for created blob files.
	// Default: 0644
	FileMode os.FileMode
}

// New creates a blob store, creating the root directory if needed.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("blob directory is required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}

	if err := os.MkdirAll(cfg.Dir, cfg.DirMode); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("blob path %s is not a directory", cfg.Dir)
	}

	return &Store{dir: cfg.Dir, fileMode: cfg.FileMode}, nil
}

// Path returns the canonical blob path for a file name within the store.
// The name is sanitized to its base component so session ids can never
// escape the root directory.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// Preallocate creates (or truncates) the file at path to exactly size
// bytes. On filesystems with sparse file support no data blocks are
// allocated until chunks are written.
func (s *Store) Preallocate(path string, size int64) error {
	if size < 0 {
		return fmt.Errorf("invalid preallocation size %d", size)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, s.fileMode)
	if err != nil {
		return fmt.Errorf("failed to create blob %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("failed to preallocate blob %s to %d bytes: %w", path, size, err)
	}
	return nil
}

// WriteAt streams the full payload of r into the file at the given offset
// and returns the number of bytes written. The file is never extended: the
// write must land inside the preallocated region, which the caller
// guarantees by validating payload length against the session geometry.
func (s *Store) WriteAt(path string, offset int64, r io.Reader) (int64, error) {
	if offset < 0 {
		return 0, fmt.Errorf("invalid write offset %d", offset)
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to open blob %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat blob %s: %w", path, err)
	}
	if offset > info.Size() {
		return 0, fmt.Errorf("write offset %d beyond blob size %d", offset, info.Size())
	}

	buf := bufpool.Get(bufpool.DefaultStreamSize)
	defer bufpool.Put(buf)

	n, err := io.CopyBuffer(io.NewOffsetWriter(f, offset), r, buf)
	if err != nil {
		return n, fmt.Errorf("failed to write %s at offset %d: %w", path, offset, err)
	}
	return n, nil
}

// Size returns the current size of the blob at path.
func (s *Store) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat blob %s: %w", path, err)
	}
	return info.Size(), nil
}

// Exists reports whether the blob at path exists.
func (s *Store) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat blob %s: %w", path, err)
}

// Open returns a read-only handle to the blob at path, for hashing and
// archive inspection.
func (s *Store) Open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", path, err)
	}
	return f, nil
}

// Delete removes the blob at path. Deleting an absent blob is not an
// error, so recovery sweeps can retry deletion freely.
func (s *Store) Delete(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob %s: %w", path, err)
	}
	return nil
}
