package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.OutputDir != "dump" {
		t.Errorf("expected default OutputDir = dump, got %s", cfg.OutputDir)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected default Port = 8080, got %d", cfg.Port)
	}
	if cfg.Workers != 2 {
		t.Errorf("expected default Workers = 2, got %d", cfg.Workers)
	}
	if cfg.Transcribe.Engine != "whisper" {
		t.Errorf("expected default engine = whisper, got %s", cfg.Transcribe.Engine)
	}
	if cfg.Transcribe.Model != "base" {
		t.Errorf("expected default model = base, got %s", cfg.Transcribe.Model)
	}
	if cfg.Auth.SecretName != "mediadigest/default" {
		t.Errorf("expected default secret name, got %s", cfg.Auth.SecretName)
	}
	if cfg.Auth.Region != "eu-west-2" {
		t.Errorf("expected default region eu-west-2, got %s", cfg.Auth.Region)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default LogLevel = info, got %s", cfg.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.Port = 0 },
			wantErr: "invalid port",
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.Port = 70000 },
			wantErr: "invalid port",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "invalid engine",
			mutate:  func(c *Config) { c.Transcribe.Engine = "parrot" },
			wantErr: "invalid transcribe engine",
		},
		{
			name:    "invalid device",
			mutate:  func(c *Config) { c.Transcribe.Device = "tpu" },
			wantErr: "invalid device",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateBackfillsZeroValues(t *testing.T) {
	cfg := New()
	cfg.Workers = 0
	cfg.QueueCap = -1
	cfg.Transcribe.Threads = 0
	cfg.Analyze.WindowSize = 10
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Workers != 1 {
		t.Errorf("Workers = %d, want 1", cfg.Workers)
	}
	if cfg.QueueCap != 64 {
		t.Errorf("QueueCap = %d, want 64", cfg.QueueCap)
	}
	if cfg.Transcribe.Threads < 1 {
		t.Errorf("Threads = %d, want >= 1", cfg.Transcribe.Threads)
	}
	if cfg.Analyze.WindowSize != 3000 {
		t.Errorf("WindowSize = %d, want 3000", cfg.Analyze.WindowSize)
	}
	if cfg.Addr == "" {
		t.Error("Addr not computed")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
output_dir: /tmp/media
log_level: debug
transcribe:
  engine: api
  model: small
analyze:
  window_size: 4000
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := New()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.OutputDir != "/tmp/media" {
		t.Errorf("OutputDir = %s", cfg.OutputDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s", cfg.LogLevel)
	}
	if cfg.Transcribe.Engine != "api" {
		t.Errorf("Engine = %s", cfg.Transcribe.Engine)
	}
	if cfg.Transcribe.Model != "small" {
		t.Errorf("Model = %s", cfg.Transcribe.Model)
	}
	if cfg.Analyze.WindowSize != 4000 {
		t.Errorf("WindowSize = %d", cfg.Analyze.WindowSize)
	}
	// Untouched fields keep defaults.
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
}

func TestLoadFileMissingIsNotError(t *testing.T) {
	cfg := New()
	if err := cfg.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
}

func TestLoadFileMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("{not yaml:::"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := New()
	if err := cfg.LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestResolveOutputDir(t *testing.T) {
	dir := t.TempDir()
	cfg := New()
	cfg.OutputDir = filepath.Join(dir, "out")
	if err := cfg.ResolveOutputDir(); err != nil {
		t.Fatalf("ResolveOutputDir: %v", err)
	}
	if !filepath.IsAbs(cfg.AbsOutputDir) {
		t.Errorf("AbsOutputDir not absolute: %s", cfg.AbsOutputDir)
	}
	if _, err := os.Stat(cfg.AbsOutputDir); err != nil {
		t.Errorf("output dir not created: %v", err)
	}
}

func TestResolveDBPathDefault(t *testing.T) {
	cfg := New()
	if err := cfg.ResolveDBPath(); err != nil {
		t.Fatalf("ResolveDBPath: %v", err)
	}
	if cfg.AbsDBPath == "" || !filepath.IsAbs(cfg.AbsDBPath) {
		t.Errorf("AbsDBPath = %q", cfg.AbsDBPath)
	}
	if !strings.Contains(cfg.AbsDBPath, "mediadigest") {
		t.Errorf("default db path should live under mediadigest: %s", cfg.AbsDBPath)
	}
}
