package recording

import (
	"fmt"
	"path/filepath"
)

// slicesDirName is the subdirectory of a working directory holding slices.
const slicesDirName = "slices"

// Layout derives every output path for a recording from its identifier.
//
//	<OutputDir>/<id>/<id>.wav                     converted PCM
//	<OutputDir>/<id>/slices/<id>_slice_<NN>.wav   exported slices
//	<OutputDir>/<id>/<MetadataFilename>           metadata record
type Layout struct {
	OutputDir        string
	MetadataFilename string
}

// WorkDir returns the recording's working directory.
func (l Layout) WorkDir(id string) string {
	return filepath.Join(l.OutputDir, id)
}

// ConvertedPath returns the path of the canonical PCM file.
func (l Layout) ConvertedPath(id string) string {
	return filepath.Join(l.WorkDir(id), id+".wav")
}

// SlicesDir returns the directory exported slices are written to.
func (l Layout) SlicesDir(id string) string {
	return filepath.Join(l.WorkDir(id), slicesDirName)
}

// SlicePath returns the path of the slice with the given zero-based index.
// Filenames are numbered from 01.
func (l Layout) SlicePath(id string, index int) string {
	return filepath.Join(l.SlicesDir(id), SliceFilename(id, index))
}

// SliceFilename returns the filename of the slice with the given zero-based
// index.
func SliceFilename(id string, index int) string {
	return fmt.Sprintf("%s_slice_%02d.wav", id, index+1)
}

// MetadataPath returns the path of the recording's metadata record.
func (l Layout) MetadataPath(id string) string {
	return filepath.Join(l.WorkDir(id), l.MetadataFilename)
}
