package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Library LibraryConfig `yaml:"library" validate:"required"`
	Play    PlayConfig    `yaml:"play" validate:"required"`
	Server  ServerConfig  `yaml:"server" validate:"required"`
	Log     LogConfig     `yaml:"log" validate:"required"`
}

type LibraryConfig struct {
	Dir string `yaml:"dir" env:"QUIRE_LIBRARY_DIR" validate:"required"`
}

type PlayConfig struct {
	Format      string `yaml:"format" env:"QUIRE_FORMAT" validate:"required,oneof=markdown html"`
	Checkpoints bool   `yaml:"checkpoints" env:"QUIRE_CHECKPOINTS"`
	Width       int    `yaml:"width" env:"QUIRE_WIDTH" validate:"required,min=20,max=400"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"QUIRE_LOG_LEVEL" validate:"required,oneof=debug info warn error"`
	Format string `yaml:"format" env:"QUIRE_LOG_FORMAT" validate:"required,oneof=text json"`
}

// SlogLevel maps the configured level name to a slog level.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Library: LibraryConfig{Dir: filepath.Join(dataDir(), "stories")},
		Play: PlayConfig{
			Format: "markdown",
			Width:  80,
		},
		Server: DefaultServer(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads .env, then the YAML file at path (or the default location),
// then environment overrides, and validates the result. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = getConfigPath()
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func getConfigPath() string {
	// 1. Explicit config path via environment variable
	if path := os.Getenv("QUIRE_CONFIG"); path != "" {
		return path
	}

	// 2. XDG_CONFIG_HOME (XDG Base Directory Specification)
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "quire", "config.yaml")
	}

	// 3. Default to ~/.config/quire/config.yaml
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "quire", "config.yaml")
}

func dataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "quire")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "quire")
}

// expandTilde expands a tilde (~) at the beginning of a path to the user's home directory
func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func (c *Config) validate() error {
	c.Library.Dir = expandTilde(c.Library.Dir)

	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}
