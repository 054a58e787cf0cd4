package config

import (
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"TraceFile", cfg.TraceFile, "canary.log"},
		{"OutputDir", cfg.OutputDir, ".canary/instrumented"},
		{"ReportDir", cfg.ReportDir, ".canary/reports"},
		{"HeaderName", cfg.HeaderName, "canary.h"},
		{"Workers", cfg.Workers, 4},
		{"LogLevel", cfg.LogLevel, "info"},
		{"LogJSON", cfg.LogJSON, false},
		{"LogFile", cfg.LogFile, ""},
		{"LogMaxSizeMB", cfg.LogMaxSizeMB, 10},
		{"LogMaxBackups", cfg.LogMaxBackups, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("DefaultConfig().%s = %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig() is invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		wantErr     bool
		errContains string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:        "missing trace file",
			mutate:      func(c *Config) { c.TraceFile = "" },
			wantErr:     true,
			errContains: "trace_file is required",
		},
		{
			name:        "missing output dir",
			mutate:      func(c *Config) { c.OutputDir = "" },
			wantErr:     true,
			errContains: "output_dir is required",
		},
		{
			name:        "header with path",
			mutate:      func(c *Config) { c.HeaderName = "include/canary.h" },
			wantErr:     true,
			errContains: "header_name must be a plain file name",
		},
		{
			name:        "zero workers",
			mutate:      func(c *Config) { c.Workers = 0 },
			wantErr:     true,
			errContains: "workers must be positive",
		},
		{
			name:        "unknown log level",
			mutate:      func(c *Config) { c.LogLevel = "chatty" },
			wantErr:     true,
			errContains: "invalid log_level",
		},
		{
			name:        "negative backups",
			mutate:      func(c *Config) { c.LogMaxBackups = -1 },
			wantErr:     true,
			errContains: "log_max_backups must be non-negative",
		},
		{
			name:        "bad exclude glob",
			mutate:      func(c *Config) { c.Exclude = []string{"[unclosed"} },
			wantErr:     true,
			errContains: "invalid exclude pattern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error containing %q, got nil", tt.errContains)
				} else if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("Error = %q, should contain %q", err.Error(), tt.errContains)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		envVars     map[string]string
		checkCfg    func(*testing.T, *Config)
		wantErr     bool
		errContains string
	}{
		{
			name: "load valid config from file",
			configYAML: `
trace_file: build/trace.log
output_dir: build/instrumented
header_name: probes.h
workers: 8
exclude:
  - "*_test.c"
log_level: debug
log_json: true
`,
			checkCfg: func(t *testing.T, cfg *Config) {
				if cfg.TraceFile != "build/trace.log" {
					t.Errorf("TraceFile = %v, want build/trace.log", cfg.TraceFile)
				}
				if cfg.OutputDir != "build/instrumented" {
					t.Errorf("OutputDir = %v, want build/instrumented", cfg.OutputDir)
				}
				if cfg.HeaderName != "probes.h" {
					t.Errorf("HeaderName = %v, want probes.h", cfg.HeaderName)
				}
				if cfg.Workers != 8 {
					t.Errorf("Workers = %v, want 8", cfg.Workers)
				}
				if !reflect.DeepEqual(cfg.Exclude, []string{"*_test.c"}) {
					t.Errorf("Exclude = %v, want [*_test.c]", cfg.Exclude)
				}
				if !cfg.LogJSON {
					t.Error("LogJSON = false, want true")
				}
				if cfg.ReportDir != ".canary/reports" {
					t.Errorf("ReportDir = %v, want default", cfg.ReportDir)
				}
			},
		},
		{
			name:       "env var overrides file values",
			configYAML: "workers: 2\ntrace_file: file.log\n",
			envVars: map[string]string{
				"CANARY_WORKERS": "16",
				"CANARY_TRACE":   "env.log",
				"CANARY_EXCLUDE": "vendor/*, ,gen_*.c",
			},
			checkCfg: func(t *testing.T, cfg *Config) {
				if cfg.Workers != 16 {
					t.Errorf("Workers = %v, want 16 (from env)", cfg.Workers)
				}
				if cfg.TraceFile != "env.log" {
					t.Errorf("TraceFile = %v, want env.log (from env)", cfg.TraceFile)
				}
				if !reflect.DeepEqual(cfg.Exclude, []string{"vendor/*", "gen_*.c"}) {
					t.Errorf("Exclude = %v, want [vendor/* gen_*.c]", cfg.Exclude)
				}
			},
		},
		{
			name:       "unparsable env number is ignored",
			configYAML: "workers: 3\n",
			envVars:    map[string]string{"CANARY_WORKERS": "many"},
			checkCfg: func(t *testing.T, cfg *Config) {
				if cfg.Workers != 3 {
					t.Errorf("Workers = %v, want 3", cfg.Workers)
				}
			},
		},
		{
			name: "invalid yaml",
			configYAML: `
workers: 2
  invalid: indent
`,
			wantErr:     true,
			errContains: "failed to parse",
		},
		{
			name:        "invalid value in file",
			configYAML:  "workers: -1\n",
			wantErr:     true,
			errContains: "workers must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			configPath := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to write config file: %v", err)
			}

			cfg, err := LoadFromFile(configPath)

			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error containing %q, got nil", tt.errContains)
				} else if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("Error = %q, should contain %q", err.Error(), tt.errContains)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if tt.checkCfg != nil {
				tt.checkCfg(t, cfg)
			}
		})
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("LoadFromFile() error = %v, want read failure", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 7
	cfg.Exclude = []string{"third_party/*"}

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if !reflect.DeepEqual(cfg, loaded) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", loaded, cfg)
	}
}

func TestLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogFile = filepath.Join(t.TempDir(), "canary.log")

	logger, err := cfg.Logger(io.Discard)
	if err != nil {
		t.Fatalf("Logger() error = %v", err)
	}
	logger.Info("hello")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(cfg.LogFile); err != nil {
		t.Errorf("log file not written: %v", err)
	}

	cfg.LogLevel = "nope"
	if _, err := cfg.Logger(nil); err == nil {
		t.Error("Logger() with bad level should fail")
	}
}

func TestEffectivePath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() failed: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir() failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	if got := EffectivePath(); got != "" {
		t.Errorf("EffectivePath() = %q, want empty without config files", got)
	}

	if err := DefaultConfig().Save(GlobalConfigFilePath()); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if got := EffectivePath(); got != GlobalConfigFilePath() {
		t.Errorf("EffectivePath() = %q, want %q", got, GlobalConfigFilePath())
	}

	if err := DefaultConfig().Save(ProjectConfigFilePath()); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if got := EffectivePath(); got != ProjectConfigFilePath() {
		t.Errorf("EffectivePath() = %q, want %q", got, ProjectConfigFilePath())
	}
}
