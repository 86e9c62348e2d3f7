// Package storage provides durable file storage for the slicer's working tree.
// It defines the Storage interface (port) and implementations for local disk
// and for local disk mirrored to S3.
package storage

import (
	"context"
	"io"
	"os"
)

// Storage defines the file operations the pipeline needs for its output tree.
// Paths are full filesystem paths chosen by the caller.
type Storage interface {
	// EnsureDir creates the directory and any missing parents.
	EnsureDir(ctx context.Context, dir string) error

	// WriteAtomic replaces the file at path with data. Readers observe either
	// the previous content or the new content, never a partial write.
	WriteAtomic(ctx context.Context, path string, data io.Reader) error

	// Load opens a file for reading. The caller is responsible for closing the
	// returned ReadCloser. Returns ErrNotFound if the file does not exist.
	Load(ctx context.Context, path string) (io.ReadCloser, error)

	// ReadDir lists a directory sorted by name. A missing directory yields an
	// empty listing.
	ReadDir(ctx context.Context, dir string) ([]os.DirEntry, error)

	// Cleanup removes the specified files.
	// It continues cleanup even if some files fail to delete.
	Cleanup(ctx context.Context, paths []string) error

	// Upload mirrors data to object storage under key and returns its URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	Upload(ctx context.Context, key string, data io.Reader) (url string, err error)
}
