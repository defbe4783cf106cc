// Package config holds the editor and helper configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/machinefabric/plugview-go/wire"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "PLUGVIEW_"

// Config holds editor configuration.
type Config struct {
	// HelperPath is the helper executable. Defaults to plugview-helper next to the
	// current executable.
	HelperPath string `yaml:"helper_path"`

	// HelperArgs are passed to the helper after its endpoint descriptors.
	HelperArgs []string `yaml:"helper_args,omitempty"`

	// URL is the document the editor opens.
	URL string `yaml:"url"`

	// Width and Height are the initial editor size in pixels.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// Headless runs the browser without a window.
	Headless bool `yaml:"headless"`

	// ProfileDir is the browser profile directory, locked by one helper at a time.
	ProfileDir string `yaml:"profile_dir"`

	// StopTimeout bounds how long a helper may take to exit before it is killed.
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// PollInterval is the read poll timeout of the dispatchers.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Limits bounds frame payloads in both directions.
	Limits wire.Limits `yaml:"limits"`

	// Watch reloads the document when files under AssetDir change.
	Watch         bool          `yaml:"watch"`
	AssetDir      string        `yaml:"asset_dir,omitempty"`
	WatchPatterns []string      `yaml:"watch_patterns,omitempty"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogDevelopment selects zap's development encoder.
	LogDevelopment bool `yaml:"log_development"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		HelperPath:    filepath.Join(executableDir(), "plugview-helper"),
		URL:           "about:blank",
		Width:         800,
		Height:        600,
		ProfileDir:    filepath.Join(homeDir, ".plugview", "profile"),
		StopTimeout:   3 * time.Second,
		PollInterval:  50 * time.Millisecond,
		Limits:        wire.DefaultLimits(),
		WatchPatterns: []string{"**/*.{html,js,css}"},
		WatchDebounce: 200 * time.Millisecond,
		LogLevel:      "info",
	}
}

// Load returns the defaults overlaid with the YAML file at path (when path is not empty)
// and then with PLUGVIEW_* environment variables. The result is validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.Overlay(data); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Overlay overlays YAML bytes onto c. Unknown keys are rejected.
func (c *Config) Overlay(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overlays PLUGVIEW_* variables found by lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("HELPER", &c.HelperPath)
	str("URL", &c.URL)
	str("PROFILE_DIR", &c.ProfileDir)
	str("ASSET_DIR", &c.AssetDir)
	str("LOG_LEVEL", &c.LogLevel)

	for name, dst := range map[string]*bool{
		"HEADLESS":        &c.Headless,
		"WATCH":           &c.Watch,
		"LOG_DEVELOPMENT": &c.LogDevelopment,
	} {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
	}

	for name, dst := range map[string]*time.Duration{
		"STOP_TIMEOUT":  &c.StopTimeout,
		"POLL_INTERVAL": &c.PollInterval,
	} {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
	}
	return nil
}

// Validate checks the configuration for values the editor cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.HelperPath == "" {
		errs = append(errs, errors.New("helper_path is required"))
	}
	if c.URL == "" {
		errs = append(errs, errors.New("url is required"))
	}
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("invalid size %dx%d", c.Width, c.Height))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stop_timeout must be positive, got %s", c.StopTimeout))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.Limits.MaxFrame < 0 || c.Limits.MaxFrame > wire.MaxFrameHardLimit {
		errs = append(errs, fmt.Errorf("limits.max_frame out of range: %d", c.Limits.MaxFrame))
	}
	if c.Watch && c.AssetDir == "" {
		errs = append(errs, errors.New("watch requires asset_dir"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel
func (c *Config) Level() (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return lvl, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}

// NewLogger builds the process logger at LogLevel, writing to stderr.
func (c *Config) NewLogger() (*zap.Logger, error) {
	lvl, err := c.Level()
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.LogDevelopment {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}
