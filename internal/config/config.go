package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the mediadigest application
type Config struct {
	// File system
	OutputDir    string `yaml:"output_dir"` // user-provided
	AbsOutputDir string `yaml:"-"`          // resolved/absolute path
	DBPath       string `yaml:"db_path"`
	AbsDBPath    string `yaml:"-"`

	// Server (serve subcommand)
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Addr     string `yaml:"-"` // computed from Host:Port
	Workers  int    `yaml:"workers"`
	QueueCap int    `yaml:"queue"`

	// Transcription
	Transcribe TranscribeConfig `yaml:"transcribe"`

	// Analysis
	Analyze AnalyzeConfig `yaml:"analyze"`

	// Credential lookup
	Auth AuthConfig `yaml:"auth"`

	// Watch mode
	Watch WatchConfig `yaml:"watch"`

	// Logging
	LogLevel string `yaml:"log_level"` // debug|info|warn|error

	// Meta
	Version   string    `yaml:"-"`
	StartTime time.Time `yaml:"-"`
}

type TranscribeConfig struct {
	Engine     string `yaml:"engine"` // whisper | api
	Model      string `yaml:"model"`  // tiny|base|small|medium|large-v2|large-v3
	Device     string `yaml:"device"` // cpu | gpu
	Language   string `yaml:"language"`
	Threads    int    `yaml:"threads"`
	ModelDir   string `yaml:"model_dir"`
	BinaryPath string `yaml:"binary_path"`
}

type AnalyzeConfig struct {
	Endpoint   string `yaml:"endpoint"` // empty means library default
	Model      string `yaml:"model"`
	WindowSize int    `yaml:"window_size"` // characters per window
	MaxTokens  int    `yaml:"max_tokens"`
	Tidy       bool   `yaml:"tidy"` // run the cleanup pass before summarizing
}

type AuthConfig struct {
	SecretName string `yaml:"secret_name"`
	Region     string `yaml:"region"`
}

type WatchConfig struct {
	InputDir      string `yaml:"input_dir"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// New creates a Config with default values
func New() *Config {
	return &Config{
		OutputDir: "dump",
		Host:      "0.0.0.0",
		Port:      8080,
		Workers:   2,
		QueueCap:  64,
		LogLevel:  "info",
		Transcribe: TranscribeConfig{
			Engine:     "whisper",
			Model:      "base",
			Device:     "cpu",
			Language:   "auto",
			Threads:    4,
			BinaryPath: "whisper-cli",
		},
		Analyze: AnalyzeConfig{
			Model:      "gpt-4o-mini",
			WindowSize: 3000,
			MaxTokens:  2048,
			Tidy:       true,
		},
		Auth: AuthConfig{
			SecretName: "mediadigest/default",
			Region:     "eu-west-2",
		},
		Watch: WatchConfig{
			MaxConcurrent: 2,
		},
		StartTime: time.Now(),
		Version:   "1.0.0",
	}
}

// LoadFile overlays values from a YAML config file onto c. A missing file
// is not an error so the default path can be probed unconditionally.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks configuration and backfills defaults for zero values.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}

	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.QueueCap < 1 {
		c.QueueCap = 64
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	c.LogLevel = strings.ToLower(c.LogLevel)
	valid := false
	for _, level := range validLevels {
		if c.LogLevel == level {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid log level: %s (must be debug|info|warn|error)", c.LogLevel)
	}

	switch c.Transcribe.Engine {
	case "whisper", "api":
	default:
		return fmt.Errorf("invalid transcribe engine: %s (must be whisper|api)", c.Transcribe.Engine)
	}
	switch c.Transcribe.Device {
	case "cpu", "gpu":
	default:
		return fmt.Errorf("invalid device: %s (must be cpu|gpu)", c.Transcribe.Device)
	}
	if c.Transcribe.Threads < 1 {
		c.Transcribe.Threads = runtime.NumCPU()
	}

	if c.Analyze.WindowSize < 1000 {
		c.Analyze.WindowSize = 3000
	}
	if c.Analyze.MaxTokens < 1 {
		c.Analyze.MaxTokens = 2048
	}
	if c.Watch.MaxConcurrent < 1 {
		c.Watch.MaxConcurrent = 2
	}

	c.Addr = c.ComputeAddr()
	return nil
}

// ResolveOutputDir expands the output directory path and resolves it to an
// absolute path, creating it if needed.
func (c *Config) ResolveOutputDir() error {
	if c.OutputDir == "" {
		c.OutputDir = "dump"
	}

	expanded, err := expandHome(c.OutputDir)
	if err != nil {
		return err
	}
	c.OutputDir = expanded

	abs, err := filepath.Abs(c.OutputDir)
	if err != nil {
		return fmt.Errorf("resolve absolute path for %s: %w", c.OutputDir, err)
	}
	c.AbsOutputDir = abs

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("create output dir %s: %w", abs, err)
	}
	return nil
}

// ResolveDBPath expands the database path and resolves it to an absolute
// path. If empty, defaults to the OS cache directory.
func (c *Config) ResolveDBPath() error {
	if c.DBPath == "" {
		c.DBPath = defaultCacheDBPath()
	}

	expanded, err := expandHome(c.DBPath)
	if err != nil {
		return err
	}
	c.DBPath = expanded

	abs, err := filepath.Abs(c.DBPath)
	if err != nil {
		return fmt.Errorf("resolve absolute path for %s: %w", c.DBPath, err)
	}
	c.AbsDBPath = abs
	return nil
}

// ModelDir returns the directory speech models are cached in.
func (c *Config) ModelDir() string {
	if c.Transcribe.ModelDir != "" {
		return c.Transcribe.ModelDir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "mediadigest", "models")
	}
	return filepath.Join("mediadigest", "models")
}

// ComputeAddr returns the full server address as host:port
func (c *Config) ComputeAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Summary returns a one-line summary of key configuration
func (c *Config) Summary() map[string]any {
	return map[string]any{
		"addr":       c.Addr,
		"output_dir": c.AbsOutputDir,
		"db_path":    c.AbsDBPath,
		"workers":    c.Workers,
		"queue":      c.QueueCap,
		"engine":     c.Transcribe.Engine,
		"model":      c.Transcribe.Model,
		"log_level":  c.LogLevel,
		"version":    c.Version,
	}
}

func expandHome(p string) (string, error) {
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand home directory: %w", err)
		}
		return filepath.Join(home, p[2:]), nil
	}
	if p == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand home directory: %w", err)
		}
		return home, nil
	}
	return p, nil
}

// defaultCacheDBPath returns the cross-platform default path for the SQLite DB
// - Windows: %APPDATA%/mediadigest/mediadigest.db
// - Linux/macOS: $HOME/.cache/mediadigest/mediadigest.db
func defaultCacheDBPath() string {
	if runtime.GOOS == "windows" {
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			return filepath.Join(appdata, "mediadigest", "mediadigest.db")
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "AppData", "Roaming", "mediadigest", "mediadigest.db")
		}
		return "mediadigest.db"
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "mediadigest", "mediadigest.db")
	}
	return filepath.Join("mediadigest", "mediadigest.db")
}
