// Package config loads and validates the VoxSync YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voxlog/voxsync/internal/conflict"
)

// AutoSync modes control when the engine schedules sync work on its own.
const (
	AutoSyncDisabled    = "disabled"     // only explicit sync-once / backup commands
	AutoSyncChangesOnly = "changes-only" // sync records as local edits arrive
	AutoSyncPeriodic    = "periodic"     // changes-only plus a periodic full pass
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// RemoteURL is the base URL of the record store service
	// (e.g. "https://records.voxlog.dev").
	RemoteURL string `yaml:"remote_url"`

	// RemoteToken is the bearer token used to authenticate with the record store.
	RemoteToken string `yaml:"remote_token"`

	// DBPath overrides the local database location.
	// Defaults to ~/.local/share/voxsync/voxsync.db.
	DBPath string `yaml:"db_path"`

	// Strategy selects how concurrent edits to the same record are resolved:
	// "newer-wins" (default), "local-wins", "remote-wins", or "manual".
	Strategy conflict.Strategy `yaml:"strategy"`

	// AutoSync selects when syncs run on their own: "disabled", "changes-only"
	// (default), or "periodic".
	AutoSync string `yaml:"auto_sync"`

	// Debounce is how long the engine waits after a local edit before syncing,
	// so bursts of edits coalesce into one pass. Defaults to 3s.
	Debounce time.Duration `yaml:"debounce"`

	// Cooldown is the minimum gap between two syncs of the same record.
	// Defaults to 30s.
	Cooldown time.Duration `yaml:"cooldown"`

	// Heartbeat is the base interval of the periodic full pass when
	// auto_sync is "periodic". The engine stretches it under battery or
	// memory pressure. Defaults to 5m.
	Heartbeat time.Duration `yaml:"heartbeat"`

	// Backup configures what the backup and restore commands carry.
	Backup BackupConfig `yaml:"backup"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// BackupConfig selects what a full backup includes beyond record metadata.
type BackupConfig struct {
	// IncludeAudioFiles uploads recording audio alongside the metadata.
	IncludeAudioFiles bool `yaml:"include_audio_files"`

	// IncludeSettings backs up non-sensitive application settings.
	IncludeSettings bool `yaml:"include_settings"`

	// IncludeSensitiveSettings also backs up credentials and API keys.
	// Only honored when include_settings is true.
	IncludeSensitiveSettings bool `yaml:"include_sensitive_settings"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "voxsync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/voxsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "voxsync", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if c.RemoteURL == "" {
		return fmt.Errorf("remote_url is required")
	}
	u, err := url.ParseRequestURI(c.RemoteURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("remote_url %q must be a valid http or https URL", c.RemoteURL)
	}

	if c.RemoteToken == "" {
		return fmt.Errorf("remote_token is required")
	}

	if c.Strategy == "" {
		c.Strategy = conflict.StrategyNewerWins
	}
	if !c.Strategy.Valid() {
		return fmt.Errorf("strategy %q is not one of newer-wins, local-wins, remote-wins, manual", c.Strategy)
	}

	if c.AutoSync == "" {
		c.AutoSync = AutoSyncChangesOnly
	}
	switch c.AutoSync {
	case AutoSyncDisabled, AutoSyncChangesOnly, AutoSyncPeriodic:
	default:
		return fmt.Errorf("auto_sync %q is not one of disabled, changes-only, periodic", c.AutoSync)
	}

	if c.Debounce == 0 {
		c.Debounce = 3 * time.Second
	}
	if c.Debounce < 0 {
		return fmt.Errorf("debounce %v must not be negative", c.Debounce)
	}

	if c.Cooldown == 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown %v must not be negative", c.Cooldown)
	}

	if c.Heartbeat == 0 {
		c.Heartbeat = 5 * time.Minute
	}
	if c.Heartbeat < time.Minute {
		return fmt.Errorf("heartbeat %v is too short (minimum 1m)", c.Heartbeat)
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
