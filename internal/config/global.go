package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by LoadGlobal and HomeDir.
const (
	EnvHome   = "GIRASOL_HOME"
	EnvListen = "GIRASOL_LISTEN"
)

// GlobalConfig holds daemon and CLI settings from <home>/config.yaml.
type GlobalConfig struct {
	// Listen is the endpoint address the daemon binds.
	Listen    string          `yaml:"listen"`
	Tools     ToolsConfig     `yaml:"tools"`
	Execution ExecutionConfig `yaml:"execution"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	Transport TransportConfig `yaml:"transport"`
	Debug     DebugConfig     `yaml:"debug"`
}

// ToolsConfig locates the tracer binaries.
type ToolsConfig struct {
	Stap string `yaml:"stap"`
	Perf string `yaml:"perf"`
}

// ExecutionConfig tunes tracer child processes.
type ExecutionConfig struct {
	// KillGrace is how long a tracer gets between SIGTERM and SIGKILL.
	KillGrace time.Duration `yaml:"kill_grace"`
	// PTY runs tracers on a pseudo-terminal so their stdout is line buffered.
	PTY bool `yaml:"pty"`
}

// DaemonConfig tunes the endpoint process.
type DaemonConfig struct {
	// ShutdownGrace bounds the ordered shutdown sequence.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	// IdleTimeout stops the daemon once it has had no connections and no
	// running executions for this long. Zero disables it.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// TransportConfig tunes websocket connections.
type TransportConfig struct {
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	// QueueSize is the per-connection outbound frame buffer.
	QueueSize int `yaml:"queue_size"`
	// MaxMessageSize caps inbound frames, in bytes.
	MaxMessageSize int64 `yaml:"max_message_size"`
}

// DebugConfig controls the JSONL debug log.
type DebugConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// DefaultGlobalConfig returns the default configuration.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Listen: "127.0.0.1:7878",
		Tools: ToolsConfig{
			Stap: "stap",
			Perf: "perf",
		},
		Execution: ExecutionConfig{
			KillGrace: 5 * time.Second,
		},
		Daemon: DaemonConfig{
			ShutdownGrace: 10 * time.Second,
		},
		Transport: TransportConfig{
			WriteTimeout:   10 * time.Second,
			PingInterval:   30 * time.Second,
			QueueSize:      256,
			MaxMessageSize: 1 << 20,
		},
		Debug: DebugConfig{
			RetentionDays: 14,
		},
	}
}

// LoadGlobal reads <home>/config.yaml, if present, over the defaults and then
// applies environment overrides. A missing file is not an error.
func LoadGlobal(home string) (*GlobalConfig, error) {
	cfg := DefaultGlobalConfig()

	path := filepath.Join(home, "config.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	if listen := os.Getenv(EnvListen); listen != "" {
		cfg.Listen = listen
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *GlobalConfig) Validate() error {
	switch {
	case c.Listen == "":
		return fmt.Errorf("listen address is required")
	case c.Tools.Stap == "" || c.Tools.Perf == "":
		return fmt.Errorf("tools.stap and tools.perf are required")
	case c.Execution.KillGrace <= 0:
		return fmt.Errorf("execution.kill_grace must be positive")
	case c.Daemon.ShutdownGrace <= 0:
		return fmt.Errorf("daemon.shutdown_grace must be positive")
	case c.Execution.KillGrace >= c.Daemon.ShutdownGrace:
		return fmt.Errorf("execution.kill_grace (%s) must be shorter than daemon.shutdown_grace (%s)",
			c.Execution.KillGrace, c.Daemon.ShutdownGrace)
	case c.Daemon.IdleTimeout < 0:
		return fmt.Errorf("daemon.idle_timeout must not be negative")
	case c.Transport.QueueSize <= 0:
		return fmt.Errorf("transport.queue_size must be positive")
	}
	return nil
}

// HomeDir returns $GIRASOL_HOME, falling back to ~/.girasol.
func HomeDir() string {
	if home := os.Getenv(EnvHome); home != "" {
		return home
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".girasol")
	}
	return filepath.Join(homeDir, ".girasol")
}

// Paths is the on-disk layout under a home directory.
type Paths struct {
	Home string
}

func (p Paths) Database() string { return filepath.Join(p.Home, "database") }
func (p Paths) History() string  { return filepath.Join(p.Home, "history.db") }
func (p Paths) Traces() string   { return filepath.Join(p.Home, "traces") }
func (p Paths) Debug() string    { return filepath.Join(p.Home, "debug") }
func (p Paths) Run() string      { return filepath.Join(p.Home, "run") }
