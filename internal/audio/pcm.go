package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavFormatPCM is the WAVE format tag for integer PCM.
const wavFormatPCM = 1

// readChunkSamples is the number of samples pulled from the decoder per call.
const readChunkSamples = 8192

// PCMReader streams interleaved integer frames from a WAV file.
type PCMReader struct {
	f        *os.File
	dec      *wav.Decoder
	format   Format
	declared int
	buf      *goaudio.IntBuffer
	pending  []int
	eof      bool
}

// OpenPCM opens a WAV file for sequential frame reads.
// It returns ErrNotFound when path does not exist.
func OpenPCM(path string) (*PCMReader, error) {
	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open pcm: %w", err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s is not a valid WAV file", ErrUnsupportedFormat, path)
	}
	if err := dec.FwdToPCM(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("seek to pcm data: %w", err)
	}

	format := Format{
		SampleRate:  int(dec.SampleRate),
		Channels:    int(dec.NumChans),
		SampleWidth: int(dec.BitDepth) / 8,
	}
	if err := format.Validate(); err != nil {
		_ = f.Close()
		return nil, err
	}

	frameBytes := int64(format.Channels * format.SampleWidth)
	return &PCMReader{
		f:        f,
		dec:      dec,
		format:   format,
		declared: int(dec.PCMLen() / frameBytes),
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
			Data:   make([]int, readChunkSamples),
		},
	}, nil
}

// Format returns the stream's PCM layout.
func (r *PCMReader) Format() Format {
	return r.format
}

// DeclaredFrames returns the frame count announced by the WAV header. A
// truncated file may deliver fewer frames.
func (r *PCMReader) DeclaredFrames() int {
	return r.declared
}

// ReadFrames returns up to n frames as interleaved signed samples. The final
// short read is returned as-is; io.EOF is returned once no whole frame is
// left.
func (r *PCMReader) ReadFrames(n int) ([]int, error) {
	if n <= 0 {
		return nil, nil
	}
	ch := r.format.Channels
	want := n * ch

	for len(r.pending) < want && !r.eof {
		if err := r.fill(); err != nil {
			return nil, err
		}
	}

	take := min(want, len(r.pending))
	take -= take % ch
	if take == 0 {
		return nil, io.EOF
	}

	out := make([]int, take)
	copy(out, r.pending[:take])
	r.pending = append(r.pending[:0], r.pending[take:]...)
	return out, nil
}

// Skip discards up to n frames and returns how many were skipped.
func (r *PCMReader) Skip(n int) (int, error) {
	skipped := 0
	for skipped < n {
		chunk := min(n-skipped, readChunkSamples)
		frames, err := r.ReadFrames(chunk)
		if errors.Is(err, io.EOF) {
			return skipped, nil
		}
		if err != nil {
			return skipped, err
		}
		skipped += len(frames) / r.format.Channels
	}
	return skipped, nil
}

// Close releases the underlying file.
func (r *PCMReader) Close() error {
	return r.f.Close()
}

func (r *PCMReader) fill() error {
	n, err := r.dec.PCMBuffer(r.buf)
	if err != nil {
		return fmt.Errorf("decode pcm: %w", err)
	}
	if n == 0 {
		r.eof = true
		return nil
	}
	samples := r.buf.Data[:n]
	if r.format.SampleWidth == 1 {
		// 8-bit WAV is unsigned; re-centre so silence is zero.
		for i := range samples {
			samples[i] -= 128
		}
	}
	r.pending = append(r.pending, samples...)
	return nil
}

// WritePCM writes interleaved signed samples to path as an independent WAV
// file in the given format.
func WritePCM(path string, format Format, samples []int) (err error) {
	if err := format.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	f, err := os.Create(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close wav: %w", cerr)
		}
	}()

	data := samples
	if format.SampleWidth == 1 {
		data = make([]int, len(samples))
		for i, s := range samples {
			data[i] = s + 128
		}
	}

	enc := wav.NewEncoder(f, format.SampleRate, format.BitDepth(), format.Channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           data,
		SourceBitDepth: format.BitDepth(),
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}
