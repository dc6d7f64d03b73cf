package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 1024, cfg.Entropy.PrefixBytes)
	assert.InDelta(t, 2.0, cfg.Entropy.DeltaThreshold, 1e-9)
	assert.Equal(t, 60, cfg.Behavior.WindowSeconds)
	assert.Equal(t, 20, cfg.Behavior.MassThreshold)
	assert.Equal(t, 10, cfg.Behavior.MassWindowSeconds)
	assert.Equal(t, 48, cfg.Backup.RetentionHours)
	assert.Equal(t, 100, cfg.Backup.MinFreeMB)
	assert.Equal(t, 5, cfg.Response.PendingExpiryMinutes)
	assert.False(t, cfg.Response.SafeMode)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Behavior.WindowSeconds)
	assert.NotEmpty(t, cfg.Backup.VaultRoot, "vault root should default under the data dir")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
monitor:
  watch_directories: ["/srv/shares", "/home"]
  exclude_directories: [".git"]
behavior:
  window_seconds: 90
  mass_threshold: 30
response:
  safe_mode: true
  process_whitelist: ["7z.exe", "rsync"]
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/srv/shares", "/home"}, cfg.Monitor.WatchDirectories)
	assert.Equal(t, 90, cfg.Behavior.WindowSeconds)
	assert.Equal(t, 30, cfg.Behavior.MassThreshold)
	assert.True(t, cfg.Response.SafeMode)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched keys keep defaults.
	assert.Equal(t, 10, cfg.Behavior.MassWindowSeconds)
}

func TestLoadInvalidIsFatal(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative prefix", "entropy:\n  prefix_bytes: -1\n"},
		{"delta out of range", "entropy:\n  delta_threshold: 9.5\n"},
		{"zero window", "behavior:\n  window_seconds: 0\n"},
		{"mass window exceeds window", "behavior:\n  mass_window_seconds: 120\n"},
		{"bad regex", "behavior:\n  suspicious_name_regex: \"(unclosed\"\n"},
		{"bad log level", "logging:\n  level: verbose\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSetWritesBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Set(path, "behavior.window_seconds", "120"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.Behavior.WindowSeconds)
}

func TestSetUnknownKeyRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := Set(path, "behavior.does_not_exist", "1")
	assert.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "rejected set must not create the file")
}

func TestSetInvalidValueRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := Set(path, "behavior.window_seconds", "0")
	assert.Error(t, err)
}

func TestWhitelisted(t *testing.T) {
	cfg := Default()
	cfg.Response.ProcessWhitelist = []string{"7z.exe", "Backup-Agent"}
	assert.True(t, cfg.Whitelisted("7z.exe"))
	assert.True(t, cfg.Whitelisted("backup-agent"), "matching is case-insensitive")
	assert.False(t, cfg.Whitelisted("7z"))
}

func TestKeysCoverSchema(t *testing.T) {
	keys := Keys()
	seen := map[string]bool{}
	for _, k := range keys {
		assert.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
	}
	for _, required := range []string{
		"monitor.watch_directories", "entropy.prefix_bytes", "entropy.delta_threshold",
		"behavior.window_seconds", "behavior.mass_threshold", "behavior.mass_window_seconds",
		"response.safe_mode", "response.process_whitelist",
		"backup.retention_hours", "backup.min_free_mb", "logging.level",
	} {
		assert.True(t, seen[required], "missing key %s", required)
	}
}
