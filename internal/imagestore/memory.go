package imagestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"geowatch/internal/monitor"
)

// MemoryStore keeps images in memory. Useful for tests and dry runs.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	images map[string][]byte
	mu     sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{images: make(map[string][]byte)}
}

// Put stores the image under key.
func (m *MemoryStore) Put(_ context.Context, key string, r io.Reader, size int64) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[key] = data
	return nil
}

// Get writes the image stored under key to w.
func (m *MemoryStore) Get(_ context.Context, key string, w io.Writer) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}

	m.mu.RLock()
	data, ok := m.images[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("image %s: %w", key, monitor.ErrNotFound)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	return nil
}

// Delete removes an image. Missing keys are ignored.
func (m *MemoryStore) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.images, key)
}

// Len returns the number of stored images.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.images)
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryStore) ValidateSetup(context.Context) error {
	return nil
}

var _ monitor.ImageStore = (*MemoryStore)(nil)
