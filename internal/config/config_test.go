package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/voxlog/voxsync/internal/conflict"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// ---------------------------------------------------------------------------
// Scenario 1: a full config round-trips with every field honored
// ---------------------------------------------------------------------------

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
remote_url: https://records.voxlog.dev
remote_token: tok-123
db_path: /var/lib/voxsync/voxsync.db
strategy: remote-wins
auto_sync: periodic
debounce: 10s
cooldown: 1m
heartbeat: 10m
backup:
  include_audio_files: true
  include_settings: true
telemetry:
  otlp_endpoint: localhost:4317
  insecure: true
  service_name: voxsync-dev
  headers:
    Authorization: Bearer abc
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RemoteURL != "https://records.voxlog.dev" || cfg.RemoteToken != "tok-123" {
		t.Errorf("remote = %q / %q", cfg.RemoteURL, cfg.RemoteToken)
	}
	if cfg.DBPath != "/var/lib/voxsync/voxsync.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Strategy != conflict.StrategyRemoteWins {
		t.Errorf("Strategy = %q, want remote-wins", cfg.Strategy)
	}
	if cfg.AutoSync != AutoSyncPeriodic {
		t.Errorf("AutoSync = %q, want periodic", cfg.AutoSync)
	}
	if cfg.Debounce != 10*time.Second || cfg.Cooldown != time.Minute || cfg.Heartbeat != 10*time.Minute {
		t.Errorf("intervals = %v / %v / %v", cfg.Debounce, cfg.Cooldown, cfg.Heartbeat)
	}
	if !cfg.Backup.IncludeAudioFiles || !cfg.Backup.IncludeSettings || cfg.Backup.IncludeSensitiveSettings {
		t.Errorf("backup flags = %+v", cfg.Backup)
	}
	if cfg.Telemetry == nil {
		t.Fatal("telemetry block dropped")
	}
	if cfg.Telemetry.OTLPEndpoint != "localhost:4317" || !cfg.Telemetry.Insecure {
		t.Errorf("telemetry = %+v", cfg.Telemetry)
	}
	if cfg.Telemetry.Headers["Authorization"] != "Bearer abc" {
		t.Errorf("headers = %v", cfg.Telemetry.Headers)
	}
}

// ---------------------------------------------------------------------------
// Scenario 2: a minimal config gets the documented defaults
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
remote_url: https://records.voxlog.dev
remote_token: tok-123
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Strategy != conflict.StrategyNewerWins {
		t.Errorf("Strategy = %q, want newer-wins", cfg.Strategy)
	}
	if cfg.AutoSync != AutoSyncChangesOnly {
		t.Errorf("AutoSync = %q, want changes-only", cfg.AutoSync)
	}
	if cfg.Debounce != 3*time.Second {
		t.Errorf("Debounce = %v, want 3s", cfg.Debounce)
	}
	if cfg.Cooldown != 30*time.Second {
		t.Errorf("Cooldown = %v, want 30s", cfg.Cooldown)
	}
	if cfg.Heartbeat != 5*time.Minute {
		t.Errorf("Heartbeat = %v, want 5m", cfg.Heartbeat)
	}
	if cfg.Telemetry != nil {
		t.Error("telemetry defaulted on, want nil when omitted")
	}
}

// ---------------------------------------------------------------------------
// Scenario 3: unknown keys are rejected, catching typos
// ---------------------------------------------------------------------------

func TestLoad_UnknownKey(t *testing.T) {
	_, err := Load(writeConfig(t, `
remote_url: https://records.voxlog.dev
remote_token: tok-123
debouce: 10s
`))
	if err == nil {
		t.Fatal("misspelled key was accepted")
	}
}

// ---------------------------------------------------------------------------
// Scenario 4: validation failures carry the offending field
// ---------------------------------------------------------------------------

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{
			"missing remote_url",
			"remote_token: tok-123\n",
			"remote_url",
		},
		{
			"non-http remote_url",
			"remote_url: ftp://records.voxlog.dev\nremote_token: tok-123\n",
			"remote_url",
		},
		{
			"missing remote_token",
			"remote_url: https://records.voxlog.dev\n",
			"remote_token",
		},
		{
			"unknown strategy",
			"remote_url: https://records.voxlog.dev\nremote_token: t\nstrategy: coin-flip\n",
			"strategy",
		},
		{
			"unknown auto_sync",
			"remote_url: https://records.voxlog.dev\nremote_token: t\nauto_sync: sometimes\n",
			"auto_sync",
		},
		{
			"negative debounce",
			"remote_url: https://records.voxlog.dev\nremote_token: t\ndebounce: -1s\n",
			"debounce",
		},
		{
			"heartbeat too short",
			"remote_url: https://records.voxlog.dev\nremote_token: t\nheartbeat: 10s\n",
			"heartbeat",
		},
		{
			"telemetry without endpoint",
			"remote_url: https://records.voxlog.dev\nremote_token: t\ntelemetry:\n  insecure: true\n",
			"otlp_endpoint",
		},
	}
	for _, tc := range cases {
		_, err := Load(writeConfig(t, tc.yaml))
		if err == nil {
			t.Errorf("%s: accepted", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.wantSub) {
			t.Errorf("%s: error %q does not name %q", tc.name, err, tc.wantSub)
		}
	}
}

// ---------------------------------------------------------------------------
// Scenario 5: a missing file is an error, not an implicit default config
// ---------------------------------------------------------------------------

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("missing config file was accepted")
	}
}
