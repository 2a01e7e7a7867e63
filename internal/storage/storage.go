// Package storage provides per-run working directories and optional
// publishing of finished artifacts. It defines the Storage interface (port)
// with implementations for local disk and S3.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
)

// Storage defines working-directory management and artifact publishing.
type Storage interface {
	// CreateWorkDir creates a fresh, uniquely named directory for one run.
	// The name parameter is used as a prefix.
	CreateWorkDir(ctx context.Context, name string) (dir string, err error)

	// LoadTemp opens a local file for reading.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified files and directories.
	// It continues cleanup even if some paths fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Upload stores data under key and returns its public URL.
	// Returns ErrS3NotConfigured if publishing is not configured.
	Upload(ctx context.Context, key string, data io.Reader) (url string, err error)
}

// PublishFile uploads the local file at localPath under key.
func PublishFile(ctx context.Context, s Storage, key, localPath string) (string, error) {
	r, err := s.LoadTemp(ctx, localPath)
	if err != nil {
		return "", err
	}
	defer func() { _ = r.Close() }()

	url, err := s.Upload(ctx, key, r)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", path.Base(key), err)
	}
	return url, nil
}

// ObjectKey joins key parts with forward slashes.
func ObjectKey(parts ...string) string {
	return path.Join(parts...)
}
