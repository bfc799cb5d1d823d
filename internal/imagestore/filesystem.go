package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"geowatch/internal/monitor"
)

// FileSystemStore keeps images as files below a root directory, one
// subdirectory per area:
//
//	<root>/
//	  <areaID>/
//	    <tileKey>_<timestamp>.png
type FileSystemStore struct {
	root string
}

// NewFileSystemStore creates a store rooted at root, creating it if needed.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create image root: %w", err)
	}
	return &FileSystemStore{root: root}, nil
}

func (f *FileSystemStore) pathFor(key string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.root, filepath.FromSlash(key)), nil
}

// Put writes the image atomically (temp file + rename).
func (f *FileSystemStore) Put(_ context.Context, key string, r io.Reader, size int64) error {
	destPath, err := f.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}
	return writeFile(destPath, r, size)
}

// Get copies the stored image to w.
func (f *FileSystemStore) Get(_ context.Context, key string, w io.Writer) error {
	srcPath, err := f.pathFor(key)
	if err != nil {
		return err
	}

	file, err := os.Open(srcPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("image %s: %w", key, monitor.ErrNotFound)
		}
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(w, file); err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the root exists and is writable.
func (f *FileSystemStore) ValidateSetup(context.Context) error {
	info, err := os.Stat(f.root)
	if err != nil {
		return fmt.Errorf("image root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("image root is not a directory: %s", f.root)
	}

	probe, err := os.CreateTemp(f.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("image root not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// writeFile writes data from r to destPath using a temp file in the same
// directory followed by a rename.
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ monitor.ImageStore = (*FileSystemStore)(nil)
