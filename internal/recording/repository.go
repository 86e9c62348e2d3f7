package recording

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/maauso/autoslicer/internal/storage"
)

// Repository defines the interface for metadata persistence.
// It acts as a port in the hexagonal architecture pattern.
type Repository interface {
	// Load reads the metadata record for id and derives its status.
	// A missing record yields StatusUnprocessed, not an error.
	Load(ctx context.Context, id string) (*Record, error)

	// SaveSuccess persists a slice set, replacing any previous record.
	SaveSuccess(ctx context.Context, set *SliceSet) error

	// SaveFailure persists a failure record, replacing any previous record.
	SaveFailure(ctx context.Context, f *Failure) error

	// List returns every recording that has a metadata record, sorted by id.
	List(ctx context.Context) ([]*Record, error)
}

// Compile-time check that FileRepository implements Repository.
var _ Repository = (*FileRepository)(nil)

// FileRepository stores one JSON metadata file per recording under the
// layout's output directory.
type FileRepository struct {
	store  storage.Storage
	layout Layout
}

// NewFileRepository creates a FileRepository over store.
func NewFileRepository(store storage.Storage, layout Layout) *FileRepository {
	return &FileRepository{store: store, layout: layout}
}

// Load reads and decodes the metadata record for id. A record that exists but
// cannot be decoded is reported as StatusFailed.
func (r *FileRepository) Load(ctx context.Context, id string) (*Record, error) {
	path := r.layout.MetadataPath(id)

	rc, err := r.store.Load(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return &Record{ID: id, Status: StatusUnprocessed}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load metadata for %s: %w", id, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read metadata for %s: %w", id, err)
	}

	return decodeRecord(id, path, data), nil
}

func decodeRecord(id, path string, data []byte) *Record {
	corrupt := func(err error) *Record {
		return &Record{
			ID:     id,
			Status: StatusFailed,
			Failure: &Failure{
				Status:       failureStatus,
				RecordingID:  id,
				MetadataPath: path,
				ErrorMessage: fmt.Sprintf("unreadable metadata record: %v", err),
			},
		}
	}

	var probe struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return corrupt(err)
	}

	if probe.Status == failureStatus {
		var f Failure
		if err := json.Unmarshal(data, &f); err != nil {
			return corrupt(err)
		}
		return &Record{ID: id, Status: StatusFailed, Failure: &f}
	}

	var set SliceSet
	if err := json.Unmarshal(data, &set); err != nil {
		return corrupt(err)
	}
	if set.RecordingID == "" {
		return corrupt(errors.New("missing recording_id"))
	}
	if set.Slices == nil {
		set.Slices = []SliceSummary{}
	}
	return &Record{ID: id, Status: StatusSuccess, SliceSet: &set}
}

// SaveSuccess writes set as the recording's metadata record.
func (r *FileRepository) SaveSuccess(ctx context.Context, set *SliceSet) error {
	if set.Slices == nil {
		set.Slices = []SliceSummary{}
	}
	return r.write(ctx, set.RecordingID, set)
}

// SaveFailure writes f as the recording's metadata record.
func (r *FileRepository) SaveFailure(ctx context.Context, f *Failure) error {
	f.Status = failureStatus
	return r.write(ctx, f.RecordingID, f)
}

func (r *FileRepository) write(ctx context.Context, id string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata for %s: %w", id, err)
	}

	if err := r.store.WriteAtomic(ctx, r.layout.MetadataPath(id), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("save metadata for %s: %w", id, err)
	}
	return nil
}

// List walks the output directory and loads every recording that has a
// metadata record.
func (r *FileRepository) List(ctx context.Context) ([]*Record, error) {
	entries, err := r.store.ReadDir(ctx, r.layout.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}

	records := make([]*Record, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rec, err := r.Load(ctx, e.Name())
		if err != nil {
			return nil, err
		}
		if rec.Status == StatusUnprocessed {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
