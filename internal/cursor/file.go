package cursor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// File stores the cursor as the whole content of a small text file.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile creates a file-backed store at path. The file is created on the
// first Set.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the file path used by this store.
func (f *File) Path() string {
	return f.path
}

// Get returns the stored id. A missing or blank file means no cursor.
func (f *File) Get(ctx context.Context) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read cursor file: %w", err)
	}
	v := strings.TrimSpace(string(data))
	return v, v != "", nil
}

// Set overwrites the file atomically (temp file + rename).
func (f *File) Set(ctx context.Context, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create cursor dir: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.TrimSpace(value)), 0o644); err != nil {
		return fmt.Errorf("write temp cursor file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp cursor file: %w", err)
	}
	return nil
}

func (f *File) Close() error { return nil }
