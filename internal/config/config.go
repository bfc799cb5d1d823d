package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for geowatch.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Database   DatabaseConfig   `toml:"database"`
	ImageStore ImageStoreConfig `toml:"image_store"`
	Encryption EncryptionConfig `toml:"encryption"`
	Imagery    ImageryConfig    `toml:"imagery"`
	Detection  DetectionConfig  `toml:"detection"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Notify     NotifyConfig     `toml:"notify"`
	Server     ServerConfig     `toml:"server"`
}

// DatabaseConfig represents configuration for the record store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "memory" or "mysql"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
	DSN     string `toml:"dsn,omitempty"`      // only used for type=mysql
}

// ImageStoreConfig represents configuration for where captured images live.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ImageStoreConfig struct {
	Type string `toml:"type"` // "memory", "filesystem" or "s3"

	// FileSystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // for S3-compatible services
	S3KeyID    string `toml:"s3_access_key_id,omitempty"`
	S3Secret   string `toml:"s3_secret_access_key,omitempty"`
}

// EncryptionConfig controls at-rest encryption of stored images.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// ImageryConfig describes the static-map imagery provider.
type ImageryConfig struct {
	Provider          string  `toml:"provider"` // "static_maps"
	BaseURL           string  `toml:"base_url"`
	APIKey            string  `toml:"api_key,omitempty"`
	APIKeyFile        string  `toml:"api_key_file,omitempty"`
	Zoom              int     `toml:"zoom"`
	ImageSize         string  `toml:"image_size"` // "<width>x<height>" in pixels
	MapType           string  `toml:"map_type"`
	Timeout           string  `toml:"timeout"`
	RequestsPerSecond float64 `toml:"requests_per_second"` // 0 disables pacing
	Burst             int     `toml:"burst"`
}

// DetectionConfig holds the change-detection parameters.
type DetectionConfig struct {
	TileSizeMeters         float64 `toml:"tile_size_meters"`
	BlurSigma              float64 `toml:"blur_sigma"`
	BinarizeThreshold      uint8   `toml:"binarize_threshold"`
	MinRegionArea          int     `toml:"min_region_area"`
	ChangeThresholdPercent float64 `toml:"change_threshold_percent"`
}

// MonitorConfig controls the scheduling loop.
type MonitorConfig struct {
	Interval           string `toml:"interval"`
	RunOnStart         bool   `toml:"run_on_start"`
	MaxConcurrentAreas int    `toml:"max_concurrent_areas"`
	MaxConcurrentTiles int    `toml:"max_concurrent_tiles"`
	LockTTL            string `toml:"lock_ttl"`
}

// NotifyConfig lists the push channels alerts are delivered through.
// Every enabled channel receives every alert.
type NotifyConfig struct {
	FCM      FCMConfig      `toml:"fcm"`
	Shoutrrr ShoutrrrConfig `toml:"shoutrrr"`
	MQTT     MQTTConfig     `toml:"mqtt"`
}

// FCMConfig configures Firebase Cloud Messaging.
type FCMConfig struct {
	Enabled         bool   `toml:"enabled"`
	CredentialsFile string `toml:"credentials_file"`
	ProjectID       string `toml:"project_id"`
	DeviceToken     string `toml:"device_token"`
}

// ShoutrrrConfig configures shoutrrr service URLs.
type ShoutrrrConfig struct {
	Enabled bool     `toml:"enabled"`
	URLs    []string `toml:"urls"`
	Timeout string   `toml:"timeout"`
}

// MQTTConfig configures publishing alerts to an MQTT broker.
type MQTTConfig struct {
	Enabled  bool   `toml:"enabled"`
	Broker   string `toml:"broker"`
	Topic    string `toml:"topic"`
	ClientID string `toml:"client_id"`
	Username string `toml:"username,omitempty"`
	Password string `toml:"password,omitempty"`
}

// ServerConfig configures the read-only status endpoint. Empty Listen disables it.
type ServerConfig struct {
	Listen string `toml:"listen"`
}

// NewConfig creates a new Config with defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		ImageStore: ImageStoreConfig{
			Type: "filesystem",
			Root: filepath.Join(baseDir, "images"),
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "geowatch.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "geowatch.key"),
		},
		Imagery: ImageryConfig{
			Provider:          "static_maps",
			BaseURL:           "https://maps.googleapis.com/maps/api/staticmap",
			Zoom:              21,
			ImageSize:         "400x400",
			MapType:           "satellite",
			Timeout:           "30s",
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Detection: DetectionConfig{
			TileSizeMeters:         236,
			BlurSigma:              1.1,
			BinarizeThreshold:      30,
			MinRegionArea:          100,
			ChangeThresholdPercent: 0.1,
		},
		Monitor: MonitorConfig{
			Interval:           "5m",
			MaxConcurrentAreas: 1,
			MaxConcurrentTiles: 4,
			LockTTL:            "30m",
		},
		Notify: NotifyConfig{
			MQTT:     MQTTConfig{Topic: "geowatch/alerts", ClientID: "geowatch"},
			Shoutrrr: ShoutrrrConfig{Timeout: "10s"},
		},
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if _, _, err := c.Imagery.Dimensions(); err != nil {
		return err
	}
	if c.Imagery.Zoom < 0 || c.Imagery.Zoom > 22 {
		return fmt.Errorf("imagery zoom %d out of range [0, 22]", c.Imagery.Zoom)
	}
	if _, err := parseDuration("imagery.timeout", c.Imagery.Timeout, 30*time.Second); err != nil {
		return err
	}
	if c.Detection.TileSizeMeters <= 0 {
		return fmt.Errorf("detection.tile_size_meters must be positive")
	}
	if c.Detection.MinRegionArea < 0 {
		return fmt.Errorf("detection.min_region_area must be >= 0")
	}
	if c.Detection.ChangeThresholdPercent < 0 || c.Detection.ChangeThresholdPercent > 100 {
		return fmt.Errorf("detection.change_threshold_percent must be within [0, 100]")
	}
	if _, err := c.Monitor.IntervalDuration(); err != nil {
		return err
	}
	if _, err := c.Monitor.LockTTLDuration(); err != nil {
		return err
	}
	if c.Monitor.MaxConcurrentAreas < 0 || c.Monitor.MaxConcurrentTiles < 0 {
		return fmt.Errorf("monitor concurrency limits must be >= 0")
	}
	if c.Notify.FCM.Enabled && (c.Notify.FCM.CredentialsFile == "" || c.Notify.FCM.ProjectID == "") {
		return fmt.Errorf("notify.fcm requires credentials_file and project_id")
	}
	if c.Notify.Shoutrrr.Enabled && len(c.Notify.Shoutrrr.URLs) == 0 {
		return fmt.Errorf("notify.shoutrrr requires at least one url")
	}
	if c.Notify.MQTT.Enabled && (c.Notify.MQTT.Broker == "" || c.Notify.MQTT.Topic == "") {
		return fmt.Errorf("notify.mqtt requires broker and topic")
	}
	return nil
}

// Dimensions parses ImageSize ("400x400") into width and height.
func (c ImageryConfig) Dimensions() (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(c.ImageSize)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid imagery.image_size %q: want <width>x<height>", c.ImageSize)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("invalid imagery.image_size width %q", w)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("invalid imagery.image_size height %q", h)
	}
	return width, height, nil
}

// TimeoutDuration returns the per-request provider timeout.
func (c ImageryConfig) TimeoutDuration() time.Duration {
	d, _ := parseDuration("imagery.timeout", c.Timeout, 30*time.Second)
	return d
}

// ResolveAPIKey returns the inline key, or the trimmed contents of APIKeyFile.
func (c ImageryConfig) ResolveAPIKey() (string, error) {
	if c.APIKeyFile == "" {
		return c.APIKey, nil
	}
	data, err := os.ReadFile(c.APIKeyFile)
	if err != nil {
		return "", fmt.Errorf("reading imagery api key file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// IntervalDuration returns the scheduling interval (default 5m).
func (c MonitorConfig) IntervalDuration() (time.Duration, error) {
	return parseDuration("monitor.interval", c.Interval, 5*time.Minute)
}

// LockTTLDuration returns how long a monitoring lease is held before it may be taken over.
func (c MonitorConfig) LockTTLDuration() (time.Duration, error) {
	return parseDuration("monitor.lock_ttl", c.LockTTL, 30*time.Minute)
}

// TimeoutDuration returns the shoutrrr send timeout.
func (c ShoutrrrConfig) TimeoutDuration() time.Duration {
	d, _ := parseDuration("notify.shoutrrr.timeout", c.Timeout, 10*time.Second)
	return d
}

func parseDuration(field, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	if d <= 0 {
		return def, fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return d, nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may carry provider keys and broker passwords.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
