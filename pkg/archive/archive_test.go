package archive

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
)

// writeTestZip creates a zip file with the given entries and returns its path.
func writeTestZip(t *testing.T, entries map[string][]byte) string {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, data := range entries {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("failed to create zip entry %s: %v", name, err)
		}
		if _, err := f.Write(data); err != nil {
			t.Fatalf("failed to write zip entry %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close zip writer: %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.zip")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("failed to write zip file: %v", err)
	}
	return path
}

func TestHasExtension(t *testing.T) {
	tests := []struct {
		filename string
		want     bool
	}{
		{"archive.zip", true},
		{"ARCHIVE.ZIP", true},
		{"data.Zip", true},
		{"archive.tar", false},
		{"zip", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := HasExtension(tt.filename); got != tt.want {
			t.Errorf("HasExtension(%q) = %v, want %v", tt.filename, got, tt.want)
		}
	}
}

func TestHashFile(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	path := filepath.Join(t.TempDir(), "blob")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	sum := sha256.Sum256(data)
	want := hex.EncodeToString(sum[:])

	got, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	if got != want {
		t.Errorf("HashFile = %s, want %s", got, want)
	}
}

func TestHashFileMissing(t *testing.T) {
	if _, err := HashFile(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid archive", func(t *testing.T) {
		path := writeTestZip(t, map[string][]byte{
			"readme.txt":   []byte("hello"),
			"dir/data.bin": bytes.Repeat([]byte{0xAB}, 1024),
		})
		if err := Validate(path); err != nil {
			t.Errorf("Validate failed on valid archive: %v", err)
		}
	})

	t.Run("garbage bytes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "garbage.zip")
		if err := os.WriteFile(path, bytes.Repeat([]byte{0x42}, 4096), 0644); err != nil {
			t.Fatal(err)
		}
		if err := Validate(path); err == nil {
			t.Error("expected error for non-zip bytes")
		}
	})

	t.Run("empty archive", func(t *testing.T) {
		path := writeTestZip(t, nil)
		if err := Validate(path); err == nil {
			t.Error("expected error for archive with no entries")
		}
	})

	t.Run("truncated archive", func(t *testing.T) {
		path := writeTestZip(t, map[string][]byte{"a.txt": []byte("payload")})
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		// Chop off the end of the central directory.
		if err := os.WriteFile(path, data[:len(data)-16], 0644); err != nil {
			t.Fatal(err)
		}
		if err := Validate(path); err == nil {
			t.Error("expected error for truncated archive")
		}
	})
}

func TestList(t *testing.T) {
	path := writeTestZip(t, map[string][]byte{
		"readme.txt": []byte("hello world"),
		"empty.txt":  nil,
	})

	entries, err := List(path)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	byName := make(map[string]Entry)
	for _, e := range entries {
		byName[e.Name] = e
	}

	readme, ok := byName["readme.txt"]
	if !ok {
		t.Fatal("missing readme.txt entry")
	}
	if readme.Size != uint64(len("hello world")) {
		t.Errorf("readme.txt size = %d, want %d", readme.Size, len("hello world"))
	}
	if readme.IsDirectory {
		t.Error("readme.txt should not be a directory")
	}
}
