// Package pfsconfig loads and validates the YAML configuration that
// drives a physfs instance: logging, the persistent decompressed-entry
// cache, metrics/health ports, FUSE mount options, and feature flags.
package pfsconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration is the top-level document loaded from a physfs config file.
type Configuration struct {
	Global   GlobalConfig   `yaml:"global"`
	Mount    MountConfig    `yaml:"mount"`
	Cache    CacheConfig    `yaml:"cache"`
	FUSE     FUSEConfig     `yaml:"fuse"`
	Monitor  MonitorConfig  `yaml:"monitoring"`
	Features FeatureConfig  `yaml:"features"`
}

// GlobalConfig carries process-wide settings.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
	HealthPort  int    `yaml:"health_port"`
}

// MountConfig describes the search path and write directory the instance
// comes up with before the caller mounts anything further.
type MountConfig struct {
	WriteDir      string   `yaml:"write_dir"`
	SearchPath    []string `yaml:"search_path"`
	AllowSymlinks bool     `yaml:"allow_symlinks"`
}

// CacheConfig configures the persistent decompressed-entry cache.
type CacheConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Directory       string        `yaml:"directory"`
	MaxEntries      int           `yaml:"max_entries"`
	MaxSize         string        `yaml:"max_size"`
	TTL             time.Duration `yaml:"ttl"`
	CompressionMin  string        `yaml:"compression_min_size"`
}

// FUSEConfig configures the optional FUSE exposure layer.
type FUSEConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Mountpoint string `yaml:"mountpoint"`
	ReadOnly   bool   `yaml:"read_only"`
	AllowOther bool   `yaml:"allow_other"`
}

// MonitorConfig configures metrics and health checks.
type MonitorConfig struct {
	Metrics      MetricsConfig      `yaml:"metrics"`
	HealthChecks HealthChecksConfig `yaml:"health_checks"`
}

// MetricsConfig toggles the prometheus collector.
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// HealthChecksConfig configures periodic mount-source liveness checks.
type HealthChecksConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// FeatureConfig toggles optional behaviors.
type FeatureConfig struct {
	SymlinkResolution bool `yaml:"symlink_resolution"`
	MetadataCaching   bool `yaml:"metadata_caching"`
	ConcurrentMount   bool `yaml:"concurrent_mount"`
}

// NewDefault returns a Configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFormat:   "text",
			MetricsPort: 9180,
			HealthPort: 9181,
		},
		Mount: MountConfig{
			AllowSymlinks: true,
		},
		Cache: CacheConfig{
			Enabled:        false,
			Directory:      "/var/cache/physfs",
			MaxEntries:     10000,
			MaxSize:        "512MB",
			TTL:            30 * time.Minute,
			CompressionMin: "4KB",
		},
		FUSE: FUSEConfig{
			Enabled:  false,
			ReadOnly: true,
		},
		Monitor: MonitorConfig{
			Metrics: MetricsConfig{
				Enabled:      true,
				CustomLabels: map[string]string{"service": "physfs"},
			},
			HealthChecks: HealthChecksConfig{
				Enabled:  true,
				Interval: 30 * time.Second,
				Timeout:  5 * time.Second,
			},
		},
		Features: FeatureConfig{
			SymlinkResolution: true,
			MetadataCaching:   true,
			ConcurrentMount:   true,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file, replacing the
// fields present in the document over whatever c already holds.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv overlays PHYSFS_-prefixed environment variables.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("PHYSFS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("PHYSFS_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("PHYSFS_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}
	if val := os.Getenv("PHYSFS_WRITE_DIR"); val != "" {
		c.Mount.WriteDir = val
	}
	if val := os.Getenv("PHYSFS_SEARCH_PATH"); val != "" {
		c.Mount.SearchPath = strings.Split(val, string(os.PathListSeparator))
	}
	if val := os.Getenv("PHYSFS_CACHE_ENABLED"); val != "" {
		c.Cache.Enabled = strings.EqualFold(val, "true")
	}
	if val := os.Getenv("PHYSFS_FUSE_MOUNTPOINT"); val != "" {
		c.FUSE.Mountpoint = val
		c.FUSE.Enabled = true
	}
	return nil
}

// SaveToFile serializes c as YAML to filename, creating parent directories
// as needed.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ParseSize parses a human-readable byte quantity like "512MB" or "4KB"
// into a byte count. A bare number is treated as bytes.
func ParseSize(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	s = strings.ToUpper(strings.TrimSpace(s))
	if strings.HasSuffix(s, "B") {
		s = s[:len(s)-1]
	}

	var multiplier int64 = 1
	numStr := s
	if len(s) > 0 {
		switch s[len(s)-1] {
		case 'K':
			multiplier = 1024
			numStr = s[:len(s)-1]
		case 'M':
			multiplier = 1024 * 1024
			numStr = s[:len(s)-1]
		case 'G':
			multiplier = 1024 * 1024 * 1024
			numStr = s[:len(s)-1]
		case 'T':
			multiplier = 1024 * 1024 * 1024 * 1024
			numStr = s[:len(s)-1]
		}
	}

	var num float64
	if _, err := fmt.Sscanf(numStr, "%f", &num); err != nil {
		return 0, fmt.Errorf("invalid size format: %s", s)
	}
	return int64(num * float64(multiplier)), nil
}

// Validate checks internal consistency.
func (c *Configuration) Validate() error {
	if c.Global.MetricsPort != 0 && c.Global.MetricsPort == c.Global.HealthPort {
		return fmt.Errorf("metrics_port and health_port cannot be the same")
	}
	validLevels := []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	valid := false
	for _, lvl := range validLevels {
		if strings.EqualFold(c.Global.LogLevel, lvl) {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)", c.Global.LogLevel, strings.Join(validLevels, ", "))
	}
	if c.FUSE.Enabled && c.FUSE.Mountpoint == "" {
		return fmt.Errorf("fuse.mountpoint is required when fuse.enabled is true")
	}
	if c.Cache.Enabled && c.Cache.Directory == "" {
		return fmt.Errorf("cache.directory is required when cache.enabled is true")
	}
	return nil
}
