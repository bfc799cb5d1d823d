package imagestore

import (
	"context"
	"testing"

	"geowatch/internal/config"
)

func TestNewImageStoreFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ImageStoreConfig
		wantErr bool
	}{
		{name: "memory store", cfg: config.ImageStoreConfig{Type: "memory"}},
		{name: "filesystem store", cfg: config.ImageStoreConfig{Type: "filesystem", Root: t.TempDir()}},
		{name: "filesystem without root", cfg: config.ImageStoreConfig{Type: "filesystem"}, wantErr: true},
		{name: "s3 without bucket", cfg: config.ImageStoreConfig{Type: "s3"}, wantErr: true},
		{name: "unknown type", cfg: config.ImageStoreConfig{Type: "ftp"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewImageStoreFromConfig(context.Background(), tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewImageStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if got != nil {
					t.Error("NewImageStoreFromConfig() should return nil on error")
				}
				return
			}
			if err := got.ValidateSetup(context.Background()); err != nil {
				t.Errorf("ValidateSetup() error = %v", err)
			}
		})
	}
}
