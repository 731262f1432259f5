// Package archive verifies and inspects reassembled ZIP blobs.
//
// All operations stream from disk with bounded memory: hashing reads the
// file sequentially, and structural validation only parses the central
// directory without extracting any entry.
package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/ziplift/ziplift/pkg/bufpool"
)

// Extension is the archive extension accepted by the upload protocol.
const Extension = ".zip"

// Entry describes a single archive member for the contents listing.
type Entry struct {
	Name        string    `json:"name"`
	Size        uint64    `json:"size"`
	Compressed  uint64    `json:"compressed"`
	IsDirectory bool      `json:"is_directory"`
	Modified    time.Time `json:"modified"`
}

// HasExtension reports whether the filename carries the supported archive
// extension (case-insensitive).
func HasExtension(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), Extension)
}

// HashFile computes the SHA-256 digest of the file at path, streaming the
// contents, and returns it hex-encoded.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open blob for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	buf := bufpool.Get(bufpool.DefaultChunkSize)
	defer bufpool.Put(buf)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Validate confirms the file at path is a structurally sound ZIP archive by
// parsing its central directory. It does not extract or decompress entries.
func Validate(path string) error {
	r, err := open(path)
	if err != nil {
		return err
	}
	defer r.close()

	if len(r.reader.File) == 0 {
		return fmt.Errorf("archive %s has no entries", path)
	}
	return nil
}

// List returns the entry manifest for the archive at path, in central
// directory order.
func List(path string) ([]Entry, error) {
	r, err := open(path)
	if err != nil {
		return nil, err
	}
	defer r.close()

	entries := make([]Entry, 0, len(r.reader.File))
	for _, f := range r.reader.File {
		entries = append(entries, Entry{
			Name:        f.Name,
			Size:        f.UncompressedSize64,
			Compressed:  f.CompressedSize64,
			IsDirectory: f.FileInfo().IsDir(),
			Modified:    f.Modified,
		})
	}
	return entries, nil
}

type zipFile struct {
	f      *os.File
	reader *zip.Reader
}

func (z *zipFile) close() {
	_ = z.f.Close()
}

func open(path string) (*zipFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	r, err := zip.NewReader(f, info.Size())
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("invalid zip archive %s: %w", path, err)
	}

	return &zipFile{f: f, reader: r}, nil
}
