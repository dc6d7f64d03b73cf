// Package config holds the fully enumerated configuration schema. Every
// recognized key is a struct field; nothing is discovered by reflection at
// runtime. A config that fails validation is fatal at startup and never
// fatal afterwards.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// MonitorConfig selects what the watcher subscribes to.
type MonitorConfig struct {
	WatchDirectories    []string `mapstructure:"watch_directories" yaml:"watch_directories"`
	ExcludeDirectories  []string `mapstructure:"exclude_directories" yaml:"exclude_directories"`
	FileExtensionFilter []string `mapstructure:"file_extension_filter" yaml:"file_extension_filter"`
	Recursive           bool     `mapstructure:"recursive" yaml:"recursive"`
}

// EntropyConfig tunes the entropy engine.
type EntropyConfig struct {
	PrefixBytes    int     `mapstructure:"prefix_bytes" yaml:"prefix_bytes"`
	DeltaThreshold float64 `mapstructure:"delta_threshold" yaml:"delta_threshold"`
	// SampleTail additionally samples the final PrefixBytes of files larger than twice PrefixBytes.
	SampleTail bool `mapstructure:"sample_tail" yaml:"sample_tail"`
}

// BehaviorConfig tunes the analyzer and detectors.
type BehaviorConfig struct {
	WindowSeconds       int      `mapstructure:"window_seconds" yaml:"window_seconds"`
	MassThreshold       int      `mapstructure:"mass_threshold" yaml:"mass_threshold"`
	MassWindowSeconds   int      `mapstructure:"mass_window_seconds" yaml:"mass_window_seconds"`
	EntropyFiles        int      `mapstructure:"entropy_files" yaml:"entropy_files"`
	ExtensionThreshold  int      `mapstructure:"extension_threshold" yaml:"extension_threshold"`
	TraversalThreshold  int      `mapstructure:"traversal_threshold" yaml:"traversal_threshold"`
	DeletionPairs       int      `mapstructure:"deletion_pairs" yaml:"deletion_pairs"`
	RefractorySeconds   int      `mapstructure:"refractory_seconds" yaml:"refractory_seconds"`
	BadSuffixes         []string `mapstructure:"bad_suffixes" yaml:"bad_suffixes"`
	SuspiciousRoots     []string `mapstructure:"suspicious_roots" yaml:"suspicious_roots"`
	SuspiciousNameRegex string   `mapstructure:"suspicious_name_regex" yaml:"suspicious_name_regex"`
}

// ResponseConfig governs the escalation engine.
type ResponseConfig struct {
	SafeMode             bool     `mapstructure:"safe_mode" yaml:"safe_mode"`
	ProcessWhitelist     []string `mapstructure:"process_whitelist" yaml:"process_whitelist"`
	PendingExpiryMinutes int      `mapstructure:"pending_expiry_minutes" yaml:"pending_expiry_minutes"`
}

// BackupConfig governs the vault.
type BackupConfig struct {
	VaultRoot      string `mapstructure:"vault_root" yaml:"vault_root"`
	RetentionHours int    `mapstructure:"retention_hours" yaml:"retention_hours"`
	MinFreeMB      int    `mapstructure:"min_free_mb" yaml:"min_free_mb"`
	Workers        int    `mapstructure:"workers" yaml:"workers"`
}

// LoggingConfig selects log output.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// AlertsConfig configures external alert sinks.
type AlertsConfig struct {
	Webhook string `mapstructure:"webhook" yaml:"webhook"`
	Command string `mapstructure:"command" yaml:"command"`
}

// Config is the root configuration object.
type Config struct {
	DataDir  string         `mapstructure:"data_dir" yaml:"data_dir"`
	Monitor  MonitorConfig  `mapstructure:"monitor" yaml:"monitor"`
	Entropy  EntropyConfig  `mapstructure:"entropy" yaml:"entropy"`
	Behavior BehaviorConfig `mapstructure:"behavior" yaml:"behavior"`
	Response ResponseConfig `mapstructure:"response" yaml:"response"`
	Backup   BackupConfig   `mapstructure:"backup" yaml:"backup"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Alerts   AlertsConfig   `mapstructure:"alerts" yaml:"alerts"`
}

// DefaultBadSuffixes is the known-bad extension set used by the
// ExtensionManipulation and DeletionPattern detectors.
var DefaultBadSuffixes = []string{
	".encrypted", ".locked", ".crypto", ".enc", ".crypt",
	".cry", ".vault", ".zzz", ".xyz", ".aaa",
}

// DefaultSuspiciousRoots are path fragments that mark an executable as
// running from a staging location.
var DefaultSuspiciousRoots = []string{
	"/tmp/", "/var/tmp/", "/dev/shm/",
	"\\Temp\\", "\\Downloads\\", "\\AppData\\Local\\Temp\\", "/Downloads/",
	"/.cache/",
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir: defaultDataDir(),
		Monitor: MonitorConfig{
			Recursive: true,
		},
		Entropy: EntropyConfig{
			PrefixBytes:    1024,
			DeltaThreshold: 2.0,
		},
		Behavior: BehaviorConfig{
			WindowSeconds:       60,
			MassThreshold:       20,
			MassWindowSeconds:   10,
			EntropyFiles:        3,
			ExtensionThreshold:  3,
			TraversalThreshold:  5,
			DeletionPairs:       3,
			RefractorySeconds:   5,
			BadSuffixes:         DefaultBadSuffixes,
			SuspiciousRoots:     DefaultSuspiciousRoots,
			SuspiciousNameRegex: `(?i)(crypt|lock|ransom|wncry|wannacry)`,
		},
		Response: ResponseConfig{
			PendingExpiryMinutes: 5,
		},
		Backup: BackupConfig{
			RetentionHours: 48,
			MinFreeMB:      100,
			Workers:        2,
		},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9311",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ransomd"
	}
	return filepath.Join(home, ".ransomd")
}

// Path returns the default config file location
// (~/.config/ransomd/config.yaml, honoring XDG_CONFIG_HOME).
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "ransomd", "config.yaml")
}

func newViper(file string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	if file != "" {
		v.SetConfigFile(file)
	} else if p := Path(); p != "" {
		v.SetConfigFile(p)
	}
	v.SetEnvPrefix("RANSOMD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	return v
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("monitor.watch_directories", d.Monitor.WatchDirectories)
	v.SetDefault("monitor.exclude_directories", d.Monitor.ExcludeDirectories)
	v.SetDefault("monitor.file_extension_filter", d.Monitor.FileExtensionFilter)
	v.SetDefault("monitor.recursive", d.Monitor.Recursive)
	v.SetDefault("entropy.prefix_bytes", d.Entropy.PrefixBytes)
	v.SetDefault("entropy.delta_threshold", d.Entropy.DeltaThreshold)
	v.SetDefault("entropy.sample_tail", d.Entropy.SampleTail)
	v.SetDefault("behavior.window_seconds", d.Behavior.WindowSeconds)
	v.SetDefault("behavior.mass_threshold", d.Behavior.MassThreshold)
	v.SetDefault("behavior.mass_window_seconds", d.Behavior.MassWindowSeconds)
	v.SetDefault("behavior.entropy_files", d.Behavior.EntropyFiles)
	v.SetDefault("behavior.extension_threshold", d.Behavior.ExtensionThreshold)
	v.SetDefault("behavior.traversal_threshold", d.Behavior.TraversalThreshold)
	v.SetDefault("behavior.deletion_pairs", d.Behavior.DeletionPairs)
	v.SetDefault("behavior.refractory_seconds", d.Behavior.RefractorySeconds)
	v.SetDefault("behavior.bad_suffixes", d.Behavior.BadSuffixes)
	v.SetDefault("behavior.suspicious_roots", d.Behavior.SuspiciousRoots)
	v.SetDefault("behavior.suspicious_name_regex", d.Behavior.SuspiciousNameRegex)
	v.SetDefault("response.safe_mode", d.Response.SafeMode)
	v.SetDefault("response.process_whitelist", d.Response.ProcessWhitelist)
	v.SetDefault("response.pending_expiry_minutes", d.Response.PendingExpiryMinutes)
	v.SetDefault("backup.vault_root", d.Backup.VaultRoot)
	v.SetDefault("backup.retention_hours", d.Backup.RetentionHours)
	v.SetDefault("backup.min_free_mb", d.Backup.MinFreeMB)
	v.SetDefault("backup.workers", d.Backup.Workers)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("alerts.webhook", d.Alerts.Webhook)
	v.SetDefault("alerts.command", d.Alerts.Command)
}

// Load reads the config file (the default path when file is empty), applies
// environment overrides, and validates. A missing file yields defaults.
func Load(file string) (Config, error) {
	v := newViper(file)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.Backup.VaultRoot == "" {
		cfg.Backup.VaultRoot = filepath.Join(cfg.DataDir, "vault")
	}
	return cfg, nil
}

// Set updates one dotted key in the config file and writes it back. The new
// value is validated against the full schema before anything touches disk.
func Set(file, key, value string) error {
	v := newViper(file)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	if !knownKey(key) {
		return fmt.Errorf("unknown config key %q", key)
	}
	v.Set(key, coerce(value))
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	path := v.ConfigFileUsed()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return v.WriteConfigAs(path)
}

// coerce turns CLI strings into the natural config type so the schema
// unmarshal sees real booleans and numbers.
func coerce(s string) interface{} {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return s
}

func knownKey(key string) bool {
	for _, k := range Keys() {
		if k == key {
			return true
		}
	}
	return false
}

// Keys lists every recognized dotted config key.
func Keys() []string {
	return []string{
		"data_dir",
		"monitor.watch_directories",
		"monitor.exclude_directories",
		"monitor.file_extension_filter",
		"monitor.recursive",
		"entropy.prefix_bytes",
		"entropy.delta_threshold",
		"entropy.sample_tail",
		"behavior.window_seconds",
		"behavior.mass_threshold",
		"behavior.mass_window_seconds",
		"behavior.entropy_files",
		"behavior.extension_threshold",
		"behavior.traversal_threshold",
		"behavior.deletion_pairs",
		"behavior.refractory_seconds",
		"behavior.bad_suffixes",
		"behavior.suspicious_roots",
		"behavior.suspicious_name_regex",
		"response.safe_mode",
		"response.process_whitelist",
		"response.pending_expiry_minutes",
		"backup.vault_root",
		"backup.retention_hours",
		"backup.min_free_mb",
		"backup.workers",
		"logging.level",
		"metrics.enabled",
		"metrics.addr",
		"alerts.webhook",
		"alerts.command",
	}
}

// Validate checks value ranges and compiles the regex once to surface bad
// patterns at startup.
func (c *Config) Validate() error {
	if c.Entropy.PrefixBytes <= 0 {
		return fmt.Errorf("entropy.prefix_bytes must be positive, got %d", c.Entropy.PrefixBytes)
	}
	if c.Entropy.DeltaThreshold < 0 || c.Entropy.DeltaThreshold > 8 {
		return fmt.Errorf("entropy.delta_threshold must be in [0,8], got %g", c.Entropy.DeltaThreshold)
	}
	if c.Behavior.WindowSeconds <= 0 {
		return fmt.Errorf("behavior.window_seconds must be positive, got %d", c.Behavior.WindowSeconds)
	}
	if c.Behavior.MassWindowSeconds <= 0 || c.Behavior.MassWindowSeconds > c.Behavior.WindowSeconds {
		return fmt.Errorf("behavior.mass_window_seconds must be in (0, window_seconds], got %d", c.Behavior.MassWindowSeconds)
	}
	for _, n := range []struct {
		name string
		val  int
	}{
		{"behavior.mass_threshold", c.Behavior.MassThreshold},
		{"behavior.entropy_files", c.Behavior.EntropyFiles},
		{"behavior.extension_threshold", c.Behavior.ExtensionThreshold},
		{"behavior.traversal_threshold", c.Behavior.TraversalThreshold},
		{"behavior.deletion_pairs", c.Behavior.DeletionPairs},
	} {
		if n.val <= 0 {
			return fmt.Errorf("%s must be positive, got %d", n.name, n.val)
		}
	}
	if c.Behavior.SuspiciousNameRegex != "" {
		if _, err := regexp.Compile(c.Behavior.SuspiciousNameRegex); err != nil {
			return fmt.Errorf("behavior.suspicious_name_regex: %w", err)
		}
	}
	if c.Backup.RetentionHours <= 0 {
		return fmt.Errorf("backup.retention_hours must be positive, got %d", c.Backup.RetentionHours)
	}
	if c.Backup.MinFreeMB < 0 {
		return fmt.Errorf("backup.min_free_mb must be non-negative, got %d", c.Backup.MinFreeMB)
	}
	if c.Backup.Workers <= 0 {
		return fmt.Errorf("backup.workers must be positive, got %d", c.Backup.Workers)
	}
	if c.Response.PendingExpiryMinutes <= 0 {
		return fmt.Errorf("response.pending_expiry_minutes must be positive, got %d", c.Response.PendingExpiryMinutes)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps the logging.level key to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warning", "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("logging.level: unknown level %q", s)
}

// Whitelisted reports whether name is on the process whitelist
// (case-insensitive exact match).
func (c *Config) Whitelisted(name string) bool {
	for _, w := range c.Response.ProcessWhitelist {
		if strings.EqualFold(w, name) {
			return true
		}
	}
	return false
}
