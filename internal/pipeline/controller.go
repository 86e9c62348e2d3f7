// Package pipeline orchestrates the slicing workflow: discovering source
// recordings, converting them to canonical PCM, detecting transients,
// exporting each slice with level metrics, persisting metadata and notifying
// listeners.
//
// Processing is sequential. A Controller serialises ProcessRecording calls so
// that at most one run writes into the output tree at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maauso/autoslicer/internal/audio"
	"github.com/maauso/autoslicer/internal/detect"
	"github.com/maauso/autoslicer/internal/metrics"
	"github.com/maauso/autoslicer/internal/recording"
	"github.com/maauso/autoslicer/internal/storage"
)

var (
	// ErrNotProcessed is returned by LoadSliceSet when a recording has no
	// metadata record.
	ErrNotProcessed = errors.New("recording has not been processed")

	// ErrRecordingFailed is returned by LoadSliceSet when a recording's
	// metadata record describes a failure.
	ErrRecordingFailed = errors.New("recording processing failed")
)

// Detector finds slice candidates in a canonical PCM file.
type Detector interface {
	Detect(pcmPath string, p detect.Params) (*detect.Result, error)
}

// Settings holds the static tunables of a Controller.
type Settings struct {
	// InputDir is scanned for source recordings.
	InputDir string
	// SourceExt is the source file extension, including the dot. Matching is
	// case-insensitive.
	SourceExt string
	// Layout places every output file.
	Layout recording.Layout
	// Params are passed to the detector.
	Params detect.Params
}

// Option configures a Controller.
type Option func(*Controller)

// WithMetrics records pipeline metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithClock overrides the clock used for created_at timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Controller runs the slicing pipeline over an input directory.
type Controller struct {
	settings Settings
	conv     audio.Converter
	det      Detector
	repo     recording.Repository
	store    storage.Storage
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	// runMu serialises ProcessRecording.
	runMu sync.Mutex

	mu        sync.Mutex
	listeners []Listener
	errs      map[string]string
	errOrder  []string
}

// NewController creates a Controller.
func NewController(
	settings Settings,
	conv audio.Converter,
	det Detector,
	repo recording.Repository,
	store storage.Storage,
	logger *slog.Logger,
	opts ...Option,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		settings: settings,
		conv:     conv,
		det:      det,
		repo:     repo,
		store:    store,
		logger:   logger,
		now:      time.Now,
		errs:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Settings returns the controller's settings.
func (c *Controller) Settings() Settings {
	return c.settings
}

// SourcePath returns the expected source path for a recording identifier.
func (c *Controller) SourcePath(id string) string {
	return filepath.Join(c.settings.InputDir, id+c.settings.SourceExt)
}

// DiscoverPending lists source recordings that have no metadata record yet,
// ordered by filename.
func (c *Controller) DiscoverPending(ctx context.Context) ([]string, error) {
	entries, err := c.store.ReadDir(ctx, c.settings.InputDir)
	if err != nil {
		return nil, fmt.Errorf("discover pending: %w", err)
	}

	var pending []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.EqualFold(filepath.Ext(e.Name()), c.settings.SourceExt) {
			continue
		}

		path := filepath.Join(c.settings.InputDir, e.Name())
		status, err := c.Status(ctx, recording.IDFromPath(path))
		if err != nil {
			return nil, err
		}
		if status == recording.StatusUnprocessed {
			pending = append(pending, path)
		}
	}
	return pending, nil
}

// DiscoverProcessed loads every successful slice set. Failure records are
// skipped but their messages become available through LastError.
func (c *Controller) DiscoverProcessed(ctx context.Context) ([]*recording.SliceSet, error) {
	records, err := c.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover processed: %w", err)
	}

	sets := make([]*recording.SliceSet, 0, len(records))
	for _, rec := range records {
		switch rec.Status {
		case recording.StatusSuccess:
			sets = append(sets, rec.SliceSet)
		case recording.StatusFailed:
			c.trackError(rec.ID, rec.ErrorMessage())
		}
	}
	return sets, nil
}

// Status returns the processing state of a recording.
func (c *Controller) Status(ctx context.Context, id string) (recording.Status, error) {
	rec, err := c.repo.Load(ctx, id)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

// ProcessPending processes pending recordings one at a time until limit
// slice sets have been produced or no pending recordings remain. A limit of
// zero or less means no limit. Individual failures are logged and skipped;
// an encoder that cannot be started aborts the batch.
func (c *Controller) ProcessPending(ctx context.Context, limit int) ([]*recording.SliceSet, error) {
	pending, err := c.DiscoverPending(ctx)
	if err != nil {
		return nil, err
	}

	c.logger.Info("processing pending recordings",
		slog.Int("pending", len(pending)),
		slog.Int("limit", limit),
	)

	results := make([]*recording.SliceSet, 0, len(pending))
	for _, path := range pending {
		if limit > 0 && len(results) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("process pending: %w", err)
		}

		set, err := c.ProcessRecording(ctx, path)
		if errors.Is(err, audio.ErrEncoderUnavailable) {
			return results, fmt.Errorf("process pending: %w", err)
		}
		if err != nil {
			c.logger.Error("failed to process recording",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		results = append(results, set)
	}

	return results, nil
}

// ProcessRecording converts, slices and records one source recording.
//
// A conversion, detection or export failure is persisted as a failure record
// and returned. A missing source or an encoder that cannot be started is
// returned without writing a record, so the recording stays pending. Listeners are notified synchronously before returning; a listener
// must not call ProcessRecording on the same Controller.
func (c *Controller) ProcessRecording(ctx context.Context, sourcePath string) (*recording.SliceSet, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	id := recording.IDFromPath(sourcePath)
	layout := c.settings.Layout
	logger := c.logger.With(slog.String("recording_id", id))

	if _, err := os.Stat(sourcePath); err != nil {
		err = fmt.Errorf("%w: %s", audio.ErrNotFound, sourcePath)
		c.trackError(id, err.Error())
		return nil, err
	}

	for _, dir := range []string{layout.WorkDir(id), layout.SlicesDir(id)} {
		if err := c.store.EnsureDir(ctx, dir); err != nil {
			c.trackError(id, err.Error())
			return nil, err
		}
	}

	logger.Info("converting recording", slog.String("source", sourcePath))
	start := time.Now()
	pcmPath, err := c.conv.Convert(ctx, sourcePath, layout.ConvertedPath(id))
	c.metrics.ObserveConversion(time.Since(start))
	if err != nil {
		var convErr *audio.ConversionError
		if !errors.As(err, &convErr) {
			c.trackError(id, err.Error())
			c.metrics.RecordingProcessed(metrics.OutcomeFailed)
			logger.Error("conversion did not run", slog.String("error", err.Error()))
			return nil, fmt.Errorf("convert %s: %w", id, err)
		}
		return nil, c.fail(ctx, id, sourcePath, fmt.Errorf("convert %s: %w", id, err))
	}

	start = time.Now()
	result, err := c.det.Detect(pcmPath, c.settings.Params)
	c.metrics.ObserveDetection(time.Since(start))
	if err != nil {
		return nil, c.fail(ctx, id, sourcePath, fmt.Errorf("detect %s: %w", id, err))
	}

	logger.Debug("transients detected",
		slog.Int("candidates", len(result.Candidates)),
		slog.Duration("detection_time", time.Since(start)),
	)

	slices, err := c.export(ctx, id, pcmPath, result)
	if err != nil {
		return nil, c.fail(ctx, id, sourcePath, fmt.Errorf("export %s: %w", id, err))
	}

	set := &recording.SliceSet{
		RecordingID:   id,
		SourcePath:    sourcePath,
		ConvertedPath: pcmPath,
		MetadataPath:  layout.MetadataPath(id),
		SampleRate:    result.Format.SampleRate,
		Channels:      result.Format.Channels,
		SampleWidth:   result.Format.SampleWidth,
		CreatedAt:     c.now().UTC(),
		Slices:        slices,
	}

	if err := c.repo.SaveSuccess(ctx, set); err != nil {
		c.trackError(id, err.Error())
		c.metrics.RecordingProcessed(metrics.OutcomeFailed)
		return nil, err
	}

	c.clearError(id)
	c.metrics.RecordingProcessed(metrics.OutcomeSuccess)
	c.metrics.SliceExported(len(slices))

	logger.Info("recording processed",
		slog.Int("slices", len(slices)),
		slog.String("metadata", set.MetadataPath),
	)

	c.notify(ctx, set)
	return set, nil
}

// fail persists a failure record for id and tracks its message.
func (c *Controller) fail(ctx context.Context, id, sourcePath string, cause error) error {
	msg := failureMessage(cause)
	c.trackError(id, msg)
	c.metrics.RecordingProcessed(metrics.OutcomeFailed)

	c.logger.Warn("recording failed",
		slog.String("recording_id", id),
		slog.String("error", msg),
	)

	f := recording.NewFailure(id, sourcePath, c.settings.Layout.MetadataPath(id), msg, c.now())
	if err := c.repo.SaveFailure(ctx, f); err != nil {
		c.logger.Error("failed to save failure record",
			slog.String("recording_id", id),
			slog.String("error", err.Error()),
		)
		return errors.Join(cause, err)
	}
	return cause
}

// failureMessage prefers the converter's short summary over the wrapped
// error chain.
func failureMessage(err error) string {
	var convErr *audio.ConversionError
	if errors.As(err, &convErr) {
		return convErr.Error()
	}
	return err.Error()
}

// LoadSliceSet reads the slice set for id. It returns ErrRecordingFailed when
// the record describes a failure and ErrNotProcessed when there is no record;
// both cases are tracked for LastError.
func (c *Controller) LoadSliceSet(ctx context.Context, id string) (*recording.SliceSet, error) {
	rec, err := c.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case recording.StatusSuccess:
		return rec.SliceSet, nil
	case recording.StatusFailed:
		c.trackError(id, rec.ErrorMessage())
		return nil, fmt.Errorf("%w: %s: %s", ErrRecordingFailed, id, rec.ErrorMessage())
	default:
		c.trackError(id, "no metadata record")
		return nil, fmt.Errorf("%w: %s", ErrNotProcessed, id)
	}
}

// LastError returns the tracked error for id. With an empty id it returns the
// most recently tracked error across all recordings.
func (c *Controller) LastError(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id == "" {
		if len(c.errOrder) == 0 {
			return "", false
		}
		id = c.errOrder[len(c.errOrder)-1]
	}
	msg, ok := c.errs[id]
	return msg, ok
}

// trackError records msg for id. Stored messages are prefixed with the
// recording identifier so the most recent error names its recording.
func (c *Controller) trackError(id, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.errs[id] = id + ": " + msg
	c.errOrder = append(removeID(c.errOrder, id), id)
}

func (c *Controller) clearError(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.errs, id)
	c.errOrder = removeID(c.errOrder, id)
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
