// Package config provides configuration management for agentmux.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections.
type Config struct {
	Backend   BackendConfig   `mapstructure:"backend"`
	Tmux      TmuxConfig      `mapstructure:"tmux"`
	PTY       PTYConfig       `mapstructure:"pty"`
	InProcess InProcessConfig `mapstructure:"inProcess"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// BackendConfig holds settings shared by every execution substrate.
type BackendConfig struct {
	// Kind selects the substrate: tmux, pty or in_process.
	Kind string `mapstructure:"kind"`

	// PollIntervalMs is the exit-marker scan interval for the pane backend.
	PollIntervalMs int `mapstructure:"pollIntervalMs"`

	// TeardownTimeoutSec bounds detached teardown work.
	TeardownTimeoutSec int `mapstructure:"teardownTimeoutSec"`

	// ScratchDir is the parent of the private marker directory (default: os.TempDir()).
	ScratchDir string `mapstructure:"scratchDir"`
}

// TmuxConfig holds terminal multiplexer driver settings.
type TmuxConfig struct {
	Binary            string `mapstructure:"binary"`
	CommandTimeoutSec int    `mapstructure:"commandTimeoutSec"`
	// SplitDirection is "horizontal" (side by side) or "vertical" (stacked).
	SplitDirection string `mapstructure:"splitDirection"`
	// SessionPrefix names the detached leader session created outside tmux.
	SessionPrefix string `mapstructure:"sessionPrefix"`
}

// PTYConfig holds pseudo-terminal backend settings.
type PTYConfig struct {
	Cols            int    `mapstructure:"cols"`
	Rows            int    `mapstructure:"rows"`
	ScrollbackLines int    `mapstructure:"scrollbackLines"`
	Shell           string `mapstructure:"shell"`
}

// InProcessConfig holds in-process backend settings.
type InProcessConfig struct {
	// CredentialsFile is an optional JSON file of provider credentials.
	CredentialsFile string `mapstructure:"credentialsFile"`
	// CredentialsEnvPrefix is an optional prefix tried when looking up
	// provider environment variables (e.g. AGENTMUX_ for AGENTMUX_OPENAI_API_KEY).
	CredentialsEnvPrefix string `mapstructure:"credentialsEnvPrefix"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// TracingConfig holds span export settings.
type TracingConfig struct {
	// Endpoint is the OTLP/HTTP collector URL or host:port. Empty disables tracing.
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"serviceName"`
}

// PollInterval returns the marker poll interval as a time.Duration.
func (b *BackendConfig) PollInterval() time.Duration {
	return time.Duration(b.PollIntervalMs) * time.Millisecond
}

// TeardownTimeout returns the teardown timeout as a time.Duration.
func (b *BackendConfig) TeardownTimeout() time.Duration {
	return time.Duration(b.TeardownTimeoutSec) * time.Second
}

// CommandTimeout returns the per-call driver timeout as a time.Duration.
func (t *TmuxConfig) CommandTimeout() time.Duration {
	return time.Duration(t.CommandTimeoutSec) * time.Second
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTMUX_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.kind", "tmux")
	v.SetDefault("backend.pollIntervalMs", 500)
	v.SetDefault("backend.teardownTimeoutSec", 30)
	v.SetDefault("backend.scratchDir", "")

	v.SetDefault("tmux.binary", "tmux")
	v.SetDefault("tmux.commandTimeoutSec", 10)
	v.SetDefault("tmux.splitDirection", "horizontal")
	v.SetDefault("tmux.sessionPrefix", "agentmux")

	v.SetDefault("pty.cols", 120)
	v.SetDefault("pty.rows", 40)
	v.SetDefault("pty.scrollbackLines", 5000)
	v.SetDefault("pty.shell", defaultShell())

	v.SetDefault("inProcess.credentialsFile", "")
	v.SetDefault("inProcess.credentialsEnvPrefix", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stderr")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.serviceName", "agentmux")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTMUX_ (e.g. AGENTMUX_BACKEND_KIND).
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGENTMUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not map camelCase keys to SNAKE_CASE.
	_ = v.BindEnv("backend.pollIntervalMs", "AGENTMUX_BACKEND_POLL_INTERVAL_MS")
	_ = v.BindEnv("backend.teardownTimeoutSec", "AGENTMUX_BACKEND_TEARDOWN_TIMEOUT_SEC")
	_ = v.BindEnv("backend.scratchDir", "AGENTMUX_BACKEND_SCRATCH_DIR")
	_ = v.BindEnv("tmux.commandTimeoutSec", "AGENTMUX_TMUX_COMMAND_TIMEOUT_SEC")
	_ = v.BindEnv("tmux.splitDirection", "AGENTMUX_TMUX_SPLIT_DIRECTION")
	_ = v.BindEnv("tmux.sessionPrefix", "AGENTMUX_TMUX_SESSION_PREFIX")
	_ = v.BindEnv("pty.scrollbackLines", "AGENTMUX_PTY_SCROLLBACK_LINES")
	_ = v.BindEnv("inProcess.credentialsFile", "AGENTMUX_CREDENTIALS_FILE")
	_ = v.BindEnv("inProcess.credentialsEnvPrefix", "AGENTMUX_CREDENTIALS_ENV_PREFIX")
	_ = v.BindEnv("logging.outputPath", "AGENTMUX_LOGGING_OUTPUT_PATH")
	_ = v.BindEnv("tracing.endpoint", "AGENTMUX_TRACING_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = v.BindEnv("tracing.serviceName", "AGENTMUX_TRACING_SERVICE_NAME", "OTEL_SERVICE_NAME")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentmux/")

	// A missing config file is fine; defaults and env still apply.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all configuration fields hold usable values.
func validate(cfg *Config) error {
	var errs []string

	validKinds := map[string]bool{"tmux": true, "pty": true, "in_process": true}
	if !validKinds[cfg.Backend.Kind] {
		errs = append(errs, "backend.kind must be one of: tmux, pty, in_process")
	}
	if cfg.Backend.PollIntervalMs <= 0 {
		errs = append(errs, "backend.pollIntervalMs must be positive")
	}
	if cfg.Backend.TeardownTimeoutSec <= 0 {
		errs = append(errs, "backend.teardownTimeoutSec must be positive")
	}

	if cfg.Tmux.Binary == "" {
		errs = append(errs, "tmux.binary is required")
	}
	if cfg.Tmux.CommandTimeoutSec <= 0 {
		errs = append(errs, "tmux.commandTimeoutSec must be positive")
	}
	if cfg.Tmux.SplitDirection != "horizontal" && cfg.Tmux.SplitDirection != "vertical" {
		errs = append(errs, "tmux.splitDirection must be one of: horizontal, vertical")
	}

	if cfg.PTY.Cols <= 0 || cfg.PTY.Rows <= 0 {
		errs = append(errs, "pty.cols and pty.rows must be positive")
	}
	if cfg.PTY.ScrollbackLines < 0 {
		errs = append(errs, "pty.scrollbackLines must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	if cfg.Tracing.ServiceName == "" {
		errs = append(errs, "tracing.serviceName is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
