// Package config handles configuration loading, validation, and hot-reload
// for henkand.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"henkan/internal/protocol"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Engine configures the external conversion engine process.
	Engine EngineConfig `toml:"engine" json:"engine" yaml:"engine"`

	// Input configures keystroke handling.
	Input InputConfig `toml:"input" json:"input" yaml:"input"`

	// History configures the local commit history store.
	History HistoryConfig `toml:"history" json:"history" yaml:"history"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Notify configures desktop notifications.
	Notify NotifyConfig `toml:"notify" json:"notify" yaml:"notify"`
}

// EngineConfig holds conversion engine process configuration.
type EngineConfig struct {
	// Path overrides executable resolution entirely. A broken override is
	// an error; resolution does not fall through it.
	Path string `toml:"path" json:"path" yaml:"path"`

	// Name is the executable resolved on PATH when Path is unset.
	Name string `toml:"name" json:"name" yaml:"name"`

	// BuildDirs are directories searched after PATH for locally built
	// engine binaries.
	BuildDirs []string `toml:"build_dirs" json:"build_dirs" yaml:"build_dirs"`

	// Args are extra arguments passed to the engine process.
	Args []string `toml:"args" json:"args" yaml:"args"`

	// StopTimeoutSec bounds graceful shutdown before the process is killed.
	StopTimeoutSec int `toml:"stop_timeout_sec" json:"stop_timeout_sec" yaml:"stop_timeout_sec"`

	// Neural holds the capability configuration sent with init.
	Neural NeuralConfig `toml:"neural" json:"neural" yaml:"neural"`
}

// NeuralConfig configures the engine's neural conversion backend.
type NeuralConfig struct {
	// Enabled turns neural conversion on in the engine.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// ModelPath is the path to the model weights.
	ModelPath string `toml:"model_path" json:"model_path" yaml:"model_path"`

	// InferenceLimit caps candidates produced per inference.
	InferenceLimit int `toml:"inference_limit" json:"inference_limit" yaml:"inference_limit"`

	// Contextual enables surrounding-text conditioning.
	Contextual bool `toml:"contextual" json:"contextual" yaml:"contextual"`
}

// InputConfig holds keystroke handling configuration.
type InputConfig struct {
	// DebounceMs is the quiet interval after the last edit before a
	// conversion request fires.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`
}

// HistoryConfig holds commit history configuration.
type HistoryConfig struct {
	// Enabled turns local commit history on.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the path to the history database.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", or "file".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output is "file").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// NotifyConfig holds desktop notification configuration.
type NotifyConfig struct {
	// Enabled turns transient desktop notifications on.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		Engine: EngineConfig{
			Name:           "henkan-server",
			BuildDirs:      []string{filepath.Join("target", "release"), filepath.Join("target", "debug")},
			StopTimeoutSec: 5,
			Neural: NeuralConfig{
				Enabled:        false,
				InferenceLimit: 1,
			},
		},
		Input: InputConfig{
			DebounceMs: 80,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "history.db"),
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Output:   "file",
			FilePath: filepath.Join(dir, "henkand.log"),
		},
		Notify: NotifyConfig{
			Enabled: true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(configDir(), "config.toml")
}

// DataDir returns the base data directory, honoring HENKAN_DATA_DIR.
func DataDir() string {
	if dir := os.Getenv("HENKAN_DATA_DIR"); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "henkan")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "henkan")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "henkan")
		}
		return filepath.Join(os.Getenv("HOME"), ".local", "share", "henkan")
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "henkan")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "henkan")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "henkan")
		}
		return filepath.Join(os.Getenv("HOME"), ".config", "henkan")
	}
}

// Load reads configuration from the specified path. A missing file yields
// the defaults. The format follows the file extension; TOML is the default.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// ApplyEnvOverrides applies HENKAN_-prefixed environment overrides.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("HENKAN_ENGINE_PATH"); v != "" {
		c.Engine.Path = v
	}
	if v := os.Getenv("HENKAN_MODEL_PATH"); v != "" {
		c.Engine.Neural.ModelPath = v
		c.Engine.Neural.Enabled = true
	}
	if v := os.Getenv("HENKAN_HISTORY_PATH"); v != "" {
		c.History.Path = v
	}
	if v := os.Getenv("HENKAN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HENKAN_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}

// EngineOptions builds the capability block sent with the init request, or
// nil when neural conversion is off.
func (c *Config) EngineOptions() *protocol.EngineOptions {
	if !c.Engine.Neural.Enabled {
		return nil
	}
	return &protocol.EngineOptions{
		Enabled:        true,
		ModelPath:      c.Engine.Neural.ModelPath,
		InferenceLimit: c.Engine.Neural.InferenceLimit,
		Contextual:     c.Engine.Neural.Contextual,
	}
}

// DebounceInterval returns the conversion debounce as a duration.
func (c *Config) DebounceInterval() time.Duration {
	return time.Duration(c.Input.DebounceMs) * time.Millisecond
}

// StopTimeout returns the engine shutdown grace period as a duration.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Engine.StopTimeoutSec) * time.Second
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.History.Path),
		filepath.Dir(c.Logging.FilePath),
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
