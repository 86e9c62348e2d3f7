// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/autoslicer/internal/audio"
)

// ErrInvalidSourceExt is returned when SOURCE_EXT does not start with a dot.
var ErrInvalidSourceExt = errors.New("config: SOURCE_EXT must start with '.'")

// Config holds all configuration for the application.
type Config struct {
	// Filesystem layout
	InputDir         string `env:"INPUT_DIR, default=./recordings" json:"input_dir" validate:"required"`
	OutputDir        string `env:"OUTPUT_DIR, default=./slices" json:"output_dir" validate:"required"`
	SourceExt        string `env:"SOURCE_EXT, default=.m4a" json:"source_ext" validate:"required"`
	MetadataFilename string `env:"METADATA_FILENAME, default=slices.json" json:"metadata_filename" validate:"required"`

	// Detection settings
	MaxSlices  int `env:"MAX_SLICES, default=8" json:"max_slices" validate:"min=1"`
	MinSliceMs int `env:"MIN_SLICE_MS, default=80" json:"min_slice_ms" validate:"min=1"`
	MinGapMs   int `env:"MIN_GAP_MS, default=60" json:"min_gap_ms" validate:"min=1"`

	// Canonical PCM format
	TargetSampleRate  int `env:"TARGET_SAMPLE_RATE, default=44100" json:"target_sample_rate" validate:"min=1"`
	TargetChannels    int `env:"TARGET_CHANNELS, default=1" json:"target_channels" validate:"min=1"`
	TargetSampleWidth int `env:"TARGET_SAMPLE_WIDTH, default=2" json:"target_sample_width" validate:"oneof=1 2 3 4"`

	// External encoder
	FFmpegPath string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`

	// Server settings
	Port int `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`

	// Optional S3 mirror settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format" validate:"oneof=text json TEXT JSON"`
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"` // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// PCMFormat returns the canonical format every recording is converted to.
func (c *Config) PCMFormat() audio.Format {
	return audio.Format{
		SampleRate:  c.TargetSampleRate,
		Channels:    c.TargetChannels,
		SampleWidth: c.TargetSampleWidth,
	}
}

// Load reads configuration from environment variables using go-envconfig
// and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the loaded values against their struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if !strings.HasPrefix(c.SourceExt, ".") {
		return ErrInvalidSourceExt
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{InputDir: %s, OutputDir: %s, SourceExt: %s, MaxSlices: %d, MinSliceMs: %d, MinGapMs: %d, Format: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.InputDir,
		c.OutputDir,
		c.SourceExt,
		c.MaxSlices,
		c.MinSliceMs,
		c.MinGapMs,
		c.PCMFormat(),
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
