package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the process-wide configuration, owned by the composition root and
// passed into handlers and services by reference.
type Config struct {
	Addr    string `yaml:"addr"`
	DataDir string `yaml:"data_dir"`
	Dev     bool   `yaml:"dev"`

	Terminal  TerminalConfig  `yaml:"terminal"`
	Recording RecordingConfig `yaml:"recording"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// TerminalConfig holds PTY tunables.
type TerminalConfig struct {
	DefaultShell string        `yaml:"default_shell"`
	DefaultCols  uint16        `yaml:"default_cols"`
	DefaultRows  uint16        `yaml:"default_rows"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`  // graceful terminate wait before SIGKILL
	ReapInterval time.Duration `yaml:"reap_interval"` // dead-instance sweep cadence
	ReadBufSize  int           `yaml:"read_buf_size"`
}

// RecordingConfig holds recorder and storage tunables. The batching thresholds
// are tuned constants, not correctness invariants; they control how aggressively
// rapid output bursts collapse into single events.
type RecordingConfig struct {
	BatchWindow        time.Duration `yaml:"batch_window"`        // max open duration of an output batch
	BatchMaxGap        time.Duration `yaml:"batch_max_gap"`       // max gap between chunks in one batch
	FlushInterval      time.Duration `yaml:"flush_interval"`      // periodic buffer flush cadence
	BufferSize         int           `yaml:"buffer_size"`         // in-memory events before an async flush
	CheckpointInterval int           `yaml:"checkpoint_interval"` // events between auto checkpoints
	MaxEvents          int           `yaml:"max_events"`          // logical events kept per recording
	MinCompressSavings float64       `yaml:"min_compress_savings"` // fraction saved before a batch is stored compressed
	Retention          time.Duration `yaml:"retention"`           // recordings older than this are swept
	SweepInterval      time.Duration `yaml:"sweep_interval"`
}

// WebSocketConfig holds connection liveness tunables.
type WebSocketConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"` // connection is dead when no pong within this window
}

// Default returns the built-in configuration.
func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Addr:    ":8437",
		DataDir: dataDir,
		Terminal: TerminalConfig{
			DefaultShell: defaultShell(),
			DefaultCols:  80,
			DefaultRows:  24,
			StopTimeout:  5 * time.Second,
			ReapInterval: 30 * time.Second,
			ReadBufSize:  4096,
		},
		Recording: RecordingConfig{
			BatchWindow:        250 * time.Millisecond,
			BatchMaxGap:        180 * time.Millisecond,
			FlushInterval:      3 * time.Second,
			BufferSize:         5000,
			CheckpointInterval: 50,
			MaxEvents:          10000,
			MinCompressSavings: 0.10,
			Retention:          30 * 24 * time.Hour,
			SweepInterval:      time.Hour,
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			PongTimeout:  60 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if addr := os.Getenv("JTERM_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if dir := os.Getenv("JTERM_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if shell := os.Getenv("JTERM_SHELL"); shell != "" {
		cfg.Terminal.DefaultShell = shell
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}
	return cfg, nil
}

// DatabasePath returns the recording store location under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "recordings.db")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "jterm")
	}
	return filepath.Join(home, ".jterm")
}

func defaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/bash"
}
