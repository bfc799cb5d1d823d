package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables read by geowatch.
const (
	ConfigPathEnv = "GEOWATCH_CONFIG_PATH"
	HomeEnv       = "GEOWATCH_HOME"
	PassphraseEnv = "GEOWATCH_PASSPHRASE"
)

// Paths are the default locations used before a config file exists.
type Paths struct {
	ConfigPath string // ~/.config/geowatch.toml
	BaseDir    string // ~/.local/share/geowatch
}

// DefaultPaths resolves Paths, letting GEOWATCH_CONFIG_PATH and
// GEOWATCH_HOME override the home-relative defaults.
func DefaultPaths() (Paths, error) {
	configPath, err := envOrHome(ConfigPathEnv, ".config", "geowatch.toml")
	if err != nil {
		return Paths{}, err
	}
	baseDir, err := envOrHome(HomeEnv, ".local", "share", "geowatch")
	if err != nil {
		return Paths{}, err
	}
	return Paths{ConfigPath: configPath, BaseDir: baseDir}, nil
}

func envOrHome(env string, rel ...string) (string, error) {
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for %s: %w", env, err)
	}
	return filepath.Join(append([]string{home}, rel...)...), nil
}
