// Package bootstrap provides dependency initialization for the slicer.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/autoslicer/internal/audio"
	"github.com/maauso/autoslicer/internal/config"
	"github.com/maauso/autoslicer/internal/detect"
	"github.com/maauso/autoslicer/internal/metrics"
	"github.com/maauso/autoslicer/internal/pipeline"
	"github.com/maauso/autoslicer/internal/recording"
	"github.com/maauso/autoslicer/internal/storage"
)

// Dependencies holds all initialized dependencies for the binary.
type Dependencies struct {
	Controller *pipeline.Controller
	Metrics    *metrics.Metrics
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	layout := recording.Layout{
		OutputDir:        cfg.OutputDir,
		MetadataFilename: cfg.MetadataFilename,
	}
	settings := pipeline.Settings{
		InputDir:  cfg.InputDir,
		SourceExt: cfg.SourceExt,
		Layout:    layout,
		Params: detect.Params{
			MaxSlices:  cfg.MaxSlices,
			MinSliceMs: cfg.MinSliceMs,
			MinGapMs:   cfg.MinGapMs,
		},
	}

	m := metrics.New()
	ctrl := pipeline.NewController(
		settings,
		audio.NewFFmpegConverter(cfg.FFmpegPath, cfg.PCMFormat()),
		detect.NewDetector(logger),
		recording.NewFileRepository(store, layout),
		store,
		logger,
		pipeline.WithMetrics(m),
	)

	if cfg.S3Enabled() {
		if err := ctrl.AddListener(pipeline.NewMirror(store, logger)); err != nil {
			return nil, fmt.Errorf("register S3 mirror: %w", err)
		}
	}

	return &Dependencies{
		Controller: ctrl,
		Metrics:    m,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.OutputDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 mirror configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("output_dir", cfg.OutputDir),
	)
	return localStore, nil
}
