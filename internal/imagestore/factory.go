package imagestore

import (
	"context"
	"fmt"

	"geowatch/internal/config"
	"geowatch/internal/monitor"
)

// NewImageStoreFromConfig creates an ImageStore based on the store config type.
func NewImageStoreFromConfig(ctx context.Context, cfg config.ImageStoreConfig) (monitor.ImageStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem image store requires root to be set")
		}
		store, err := NewFileSystemStore(cfg.Root)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "s3":
		store, err := NewS3Store(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown image store type: %s", cfg.Type)
	}
}
