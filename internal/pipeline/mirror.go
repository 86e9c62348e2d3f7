package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"

	"github.com/maauso/autoslicer/internal/recording"
	"github.com/maauso/autoslicer/internal/storage"
)

// Mirror is a Listener that uploads each exported slice and the metadata
// record to object storage, under "<recording_id>/slices/<file>" and
// "<recording_id>/<metadata file>".
type Mirror struct {
	store  storage.Storage
	logger *slog.Logger
}

// NewMirror creates a Mirror that uploads through store.
func NewMirror(store storage.Storage, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{store: store, logger: logger}
}

// SlicesReady uploads the slice set's files. Every file is attempted; the
// returned error joins all upload failures.
func (m *Mirror) SlicesReady(ctx context.Context, set *recording.SliceSet) error {
	var errs []error

	for _, p := range set.SlicePaths() {
		key := path.Join(set.RecordingID, "slices", filepath.Base(p))
		if err := m.upload(ctx, p, key); err != nil {
			errs = append(errs, err)
		}
	}

	key := path.Join(set.RecordingID, filepath.Base(set.MetadataPath))
	if err := m.upload(ctx, set.MetadataPath, key); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (m *Mirror) upload(ctx context.Context, localPath, key string) error {
	rc, err := m.store.Load(ctx, localPath)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	url, err := m.store.Upload(ctx, key, rc)
	if err != nil {
		return fmt.Errorf("mirror %s: %w", key, err)
	}

	m.logger.Debug("mirrored file", slog.String("key", key), slog.String("url", url))
	return nil
}
