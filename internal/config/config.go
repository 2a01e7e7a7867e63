// Package config provides configuration loading from environment variables
// and an optional TOML file.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/speechsplit/internal/segment"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" toml:"port" json:"port" validate:"min=1,max=65535"`

	// Storage settings
	TempDir   string `env:"TEMP_DIR, default=/tmp/speechsplit" toml:"temp_dir" json:"temp_dir" validate:"required"`
	OutputDir string `env:"OUTPUT_DIR, default=data/result" toml:"output_dir" json:"output_dir" validate:"required"`

	// Tool paths; empty values resolve from PATH
	FFmpegPath  string `env:"FFMPEG_PATH" toml:"ffmpeg_path" json:"ffmpeg_path,omitempty"`
	FFprobePath string `env:"FFPROBE_PATH" toml:"ffprobe_path" json:"ffprobe_path,omitempty"`

	// Segmentation settings
	MinDuration     float64 `env:"MIN_DURATION, default=2" toml:"min_duration" json:"min_duration" validate:"gt=0"`
	MaxDuration     float64 `env:"MAX_DURATION, default=15" toml:"max_duration" json:"max_duration" validate:"gtefield=MinDuration"`
	SilenceThreshDB float64 `env:"SILENCE_THRESH_DB, default=-35" toml:"silence_thresh_db" json:"silence_thresh_db" validate:"lt=0"`
	MinSilenceMs    int     `env:"MIN_SILENCE_MS, default=700" toml:"min_silence_ms" json:"min_silence_ms" validate:"gt=0"`

	// Export settings; 0 sizes the pool from the CPU count
	MaxWorkers int `env:"MAX_WORKERS, default=0" toml:"max_workers" json:"max_workers" validate:"min=0"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" toml:"s3_bucket" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" toml:"s3_region" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" toml:"s3_endpoint" json:"s3_endpoint,omitempty" validate:"omitempty,url"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" toml:"-" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" toml:"-" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" toml:"log_format" json:"log_format" validate:"oneof=json text JSON TEXT"`
	LogLevel  string `env:"LOG_LEVEL, default=info" toml:"log_level" json:"log_level"` // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// LoadFile reads configuration from the environment and overlays the TOML
// file at path. Keys missing from the file keep their environment value.
// An empty path behaves like Load.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// SegmentOptions returns the segmentation options described by the config.
func (c *Config) SegmentOptions() segment.Options {
	opts := segment.DefaultOptions()
	opts.Limits = segment.Limits{Min: c.MinDuration, Max: c.MaxDuration}
	opts.Initial = segment.Params{ThresholdDB: c.SilenceThreshDB, MinSilenceMs: c.MinSilenceMs}
	return opts
}

// NewLogger creates a structured logger writing to stdout.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.NewLoggerTo(os.Stdout)
}

// NewLoggerTo is NewLogger with an explicit destination.
func (c *Config) NewLoggerTo(w io.Writer) *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, OutputDir: %s, MinDuration: %g, MaxDuration: %g, SilenceThreshDB: %g, MinSilenceMs: %d, MaxWorkers: %d, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.OutputDir,
		c.MinDuration,
		c.MaxDuration,
		c.SilenceThreshDB,
		c.MinSilenceMs,
		c.MaxWorkers,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
