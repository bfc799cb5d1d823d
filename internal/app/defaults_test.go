package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPaths(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		name       string
		configEnv  string
		homeEnv    string
		wantConfig string
		wantBase   string
	}{
		{
			name:       "environment overrides",
			configEnv:  "/etc/geowatch/config.toml",
			homeEnv:    "/srv/geowatch",
			wantConfig: "/etc/geowatch/config.toml",
			wantBase:   "/srv/geowatch",
		},
		{
			name:       "home relative",
			wantConfig: filepath.Join(home, ".config", "geowatch.toml"),
			wantBase:   filepath.Join(home, ".local", "share", "geowatch"),
		},
		{
			name:       "only data dir overridden",
			homeEnv:    "/data/geowatch",
			wantConfig: filepath.Join(home, ".config", "geowatch.toml"),
			wantBase:   "/data/geowatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(ConfigPathEnv, tt.configEnv)
			t.Setenv(HomeEnv, tt.homeEnv)

			got, err := DefaultPaths()
			if err != nil {
				t.Fatalf("DefaultPaths() error = %v", err)
			}
			if got.ConfigPath != tt.wantConfig {
				t.Errorf("ConfigPath = %q, want %q", got.ConfigPath, tt.wantConfig)
			}
			if got.BaseDir != tt.wantBase {
				t.Errorf("BaseDir = %q, want %q", got.BaseDir, tt.wantBase)
			}
		})
	}
}
