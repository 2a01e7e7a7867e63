// Package bootstrap provides dependency initialization for speechsplit.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/speechsplit/internal/audio"
	"github.com/maauso/speechsplit/internal/config"
	"github.com/maauso/speechsplit/internal/export"
	"github.com/maauso/speechsplit/internal/metadata"
	"github.com/maauso/speechsplit/internal/run"
	"github.com/maauso/speechsplit/internal/segment"
	"github.com/maauso/speechsplit/internal/storage"
)

// Dependencies holds all initialized dependencies for the CLI and the HTTP server.
type Dependencies struct {
	Segmenter *segment.Segmenter
	Service   *run.Service
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	ffmpeg := audio.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath)
	segmenter := segment.NewSegmenter(ffmpeg, ffmpeg, logger)
	exporter := export.New(ffmpeg, logger, export.WithMaxWorkers(cfg.MaxWorkers))

	svc := run.NewService(run.Config{
		Repository: run.NewMemoryRepository(),
		Planner:    segmenter,
		Exporter:   exporter,
		Writer:     metadata.NewWriter(logger),
		Storage:    store,
		Layout:     metadata.Layout{Root: cfg.OutputDir},
		Defaults:   cfg.SegmentOptions(),
		Logger:     logger,
	})

	return &Dependencies{
		Segmenter: segmenter,
		Service:   svc,
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
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
