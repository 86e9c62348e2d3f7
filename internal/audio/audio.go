// Package audio provides format conversion, PCM file access and level
// measurement for the slicing pipeline.
package audio

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a source recording or PCM file does not exist.
var ErrNotFound = errors.New("file not found")

// ErrUnsupportedFormat is returned for PCM layouts the codec cannot handle.
var ErrUnsupportedFormat = errors.New("unsupported PCM format")

// ErrEncoderUnavailable is returned when the encoder process cannot be
// started at all, for example because the binary does not exist. It says
// nothing about the source recording.
var ErrEncoderUnavailable = errors.New("encoder unavailable")

// Format describes an interleaved integer PCM stream.
type Format struct {
	// SampleRate is the number of frames per second.
	SampleRate int
	// Channels is the number of interleaved samples per frame.
	Channels int
	// SampleWidth is the size of one sample in bytes (1 to 4).
	SampleWidth int
}

// BitDepth returns the number of bits per sample.
func (f Format) BitDepth() int {
	return f.SampleWidth * 8
}

// MaxAmplitude returns the largest positive sample value, 2^(8w-1)-1.
func (f Format) MaxAmplitude() int {
	if f.SampleWidth <= 0 {
		return 0
	}
	return 1<<(f.BitDepth()-1) - 1
}

// Validate reports whether the format can be read and written.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	if f.SampleWidth < 1 || f.SampleWidth > 4 {
		return fmt.Errorf("%w: sample width %d", ErrUnsupportedFormat, f.SampleWidth)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitDepth())
}

// Converter transcodes an arbitrary source recording into the canonical PCM
// format at dst.
type Converter interface {
	// Convert writes the converted recording to dst and returns dst.
	// It returns ErrNotFound when src does not exist, ErrEncoderUnavailable
	// when the encoder cannot be started, and a *ConversionError when the
	// encoder rejects the source or produces no output.
	Convert(ctx context.Context, src, dst string) (string, error)
}
