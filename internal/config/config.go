package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/l3aro/canary/internal/log"
)

// Config holds all configuration for canary
type Config struct {
	// TraceFile is the trace log written by instrumented programs
	TraceFile string `yaml:"trace_file" env:"CANARY_TRACE"`

	// OutputDir receives instrumented sources and the runtime header
	OutputDir string `yaml:"output_dir" env:"CANARY_OUTPUT_DIR"`

	// ReportDir receives saved coverage reports
	ReportDir string `yaml:"report_dir" env:"CANARY_REPORT_DIR"`

	// HeaderName is the include name of the runtime header
	HeaderName string `yaml:"header_name" env:"CANARY_HEADER_NAME"`

	// Workers bounds concurrent trace replay
	Workers int `yaml:"workers" env:"CANARY_WORKERS"`

	// Exclude holds extra glob patterns skipped when scanning for sources
	Exclude []string `yaml:"exclude" env:"CANARY_EXCLUDE"`

	// Logging
	LogLevel      string `yaml:"log_level" env:"CANARY_LOG_LEVEL"`
	LogJSON       bool   `yaml:"log_json" env:"CANARY_LOG_JSON"`
	LogFile       string `yaml:"log_file" env:"CANARY_LOG_FILE"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb" env:"CANARY_LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `yaml:"log_max_backups" env:"CANARY_LOG_MAX_BACKUPS"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		TraceFile:     "canary.log",
		OutputDir:     ".canary/instrumented",
		ReportDir:     ".canary/reports",
		HeaderName:    "canary.h",
		Workers:       4,
		Exclude:       nil,
		LogLevel:      "info",
		LogJSON:       false,
		LogFile:       "",
		LogMaxSizeMB:  10,
		LogMaxBackups: 3,
	}
}

// GlobalConfigFilePath returns the global config file path (~/.canary/config.yaml)
func GlobalConfigFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".canary/config.yaml"
	}
	return filepath.Join(home, ".canary", "config.yaml")
}

// ProjectConfigFilePath returns the project-level config file path (./.canary/config.yaml)
func ProjectConfigFilePath() string {
	return filepath.Join(".canary", "config.yaml")
}

// EffectivePath returns the config file with the highest priority that
// exists, or "" when only defaults apply.
func EffectivePath() string {
	for _, path := range []string{ProjectConfigFilePath(), GlobalConfigFilePath()} {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// Load reads configuration with the following priority (highest to lowest):
// 1. Environment variables
// 2. Project-level config (./.canary/config.yaml)
// 3. Global config (~/.canary/config.yaml)
// 4. Defaults
func Load() (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range []string{GlobalConfigFilePath(), ProjectConfigFilePath()} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific YAML file path
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if data, err := os.ReadFile(path); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to the specified YAML file path.
// It creates parent directories if they don't exist.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CANARY_TRACE"); v != "" {
		cfg.TraceFile = v
	}
	if v := os.Getenv("CANARY_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("CANARY_REPORT_DIR"); v != "" {
		cfg.ReportDir = v
	}
	if v := os.Getenv("CANARY_HEADER_NAME"); v != "" {
		cfg.HeaderName = v
	}
	if v := os.Getenv("CANARY_WORKERS"); v != "" {
		if i := parseInt(v); i > 0 {
			cfg.Workers = i
		}
	}
	if v := os.Getenv("CANARY_EXCLUDE"); v != "" {
		cfg.Exclude = splitList(v)
	}
	if v := os.Getenv("CANARY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CANARY_LOG_JSON"); v != "" {
		cfg.LogJSON = v == "true" || v == "1" || v == "yes"
	}
	if v := os.Getenv("CANARY_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("CANARY_LOG_MAX_SIZE_MB"); v != "" {
		if i := parseInt(v); i > 0 {
			cfg.LogMaxSizeMB = i
		}
	}
	if v := os.Getenv("CANARY_LOG_MAX_BACKUPS"); v != "" {
		if i := parseInt(v); i >= 0 {
			cfg.LogMaxBackups = i
		}
	}
}

// Validate checks that the configuration has valid required fields
func (c *Config) Validate() error {
	if c.TraceFile == "" {
		return fmt.Errorf("trace_file is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if c.HeaderName == "" || strings.ContainsAny(c.HeaderName, `/\"`) {
		return fmt.Errorf("header_name must be a plain file name")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if c.LogMaxSizeMB <= 0 {
		return fmt.Errorf("log_max_size_mb must be positive")
	}
	if c.LogMaxBackups < 0 {
		return fmt.Errorf("log_max_backups must be non-negative")
	}
	for _, pattern := range c.Exclude {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
	}

	return nil
}

// Logger builds the logger described by the logging settings. Console
// entries go to stderr, or to os.Stderr when it is nil.
func (c *Config) Logger(stderr io.Writer) (*log.DefaultLogger, error) {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}

	cfg := log.LoggerConfig{Level: level, JSONOutput: c.LogJSON, Stderr: stderr}
	if c.LogFile != "" {
		cfg.File = &log.FileConfig{Path: c.LogFile, MaxSizeMB: c.LogMaxSizeMB, MaxBackups: c.LogMaxBackups}
	}
	return log.New(cfg), nil
}

// splitList splits a comma separated env value, dropping empty entries
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseInt attempts to parse a string as int, returning -1 on failure
func parseInt(s string) int {
	var i int
	if _, err := fmt.Sscanf(s, "%d", &i); err != nil {
		return -1
	}
	return i
}
