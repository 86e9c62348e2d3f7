package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/maauso/autoslicer/internal/audio"
	"github.com/maauso/autoslicer/internal/detect"
	"github.com/maauso/autoslicer/internal/recording"
)

// export clips every candidate out of the PCM file and writes it as its own
// WAV file, returning the summaries in detection order. Slice files left over
// from a previous run are removed first.
func (c *Controller) export(ctx context.Context, id, pcmPath string, result *detect.Result) ([]recording.SliceSummary, error) {
	if err := c.removeStaleSlices(ctx, id); err != nil {
		return nil, err
	}

	clipper := &clipper{path: pcmPath}
	defer clipper.close()

	format := result.Format
	summaries := make([]recording.SliceSummary, 0, len(result.Candidates))

	for _, cand := range result.Candidates {
		start := cand.StartFrame
		end := min(cand.EndFrame, result.TotalFrames)
		if end <= start {
			continue
		}

		samples, err := clipper.clip(start, end)
		if err != nil {
			return nil, err
		}
		if len(samples) == 0 {
			continue
		}
		frames := len(samples) / format.Channels

		index := len(summaries)
		path := c.settings.Layout.SlicePath(id, index)
		if err := audio.WritePCM(path, format, samples); err != nil {
			return nil, fmt.Errorf("write slice %d: %w", index+1, err)
		}

		summaries = append(summaries, summarize(index, path, start, start+frames, format, audio.Measure(samples, format)))
	}

	return summaries, nil
}

// removeStaleSlices deletes slice files from an earlier run so that a
// re-run with fewer slices does not leave orphans behind.
func (c *Controller) removeStaleSlices(ctx context.Context, id string) error {
	dir := c.settings.Layout.SlicesDir(id)
	entries, err := c.store.ReadDir(ctx, dir)
	if err != nil {
		return err
	}

	prefix := id + "_slice_"
	var stale []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) && strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			stale = append(stale, filepath.Join(dir, e.Name()))
		}
	}
	return c.store.Cleanup(ctx, stale)
}

func summarize(index int, path string, start, end int, f audio.Format, lv audio.Levels) recording.SliceSummary {
	return recording.SliceSummary{
		Index:          index,
		Path:           path,
		StartMs:        framesToMs(start, f.SampleRate),
		EndMs:          framesToMs(end, f.SampleRate),
		DurationMs:     framesToMs(end-start, f.SampleRate),
		PeakAmplitude:  lv.PeakAmplitude,
		PeakDB:         roundPtr(audio.DBFS(float64(lv.PeakAmplitude), f)),
		RMSDB:          roundPtr(audio.DBFS(lv.RMSAmplitude, f)),
		PeakNormalized: round3(audio.NormalizePeak(lv.PeakAmplitude, f)),
	}
}

func framesToMs(frames, sampleRate int) float64 {
	return round3(float64(frames) / float64(sampleRate) * 1000)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func roundPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := round3(*v)
	return &r
}

// clipper reads frame ranges from a PCM file in a single forward pass,
// reopening the file only if a range starts before the current position.
type clipper struct {
	path string
	r    *audio.PCMReader
	pos  int
}

func (c *clipper) clip(start, end int) ([]int, error) {
	if c.r == nil || start < c.pos {
		c.close()
		r, err := audio.OpenPCM(c.path)
		if err != nil {
			return nil, err
		}
		c.r = r
		c.pos = 0
	}

	if start > c.pos {
		n, err := c.r.Skip(start - c.pos)
		c.pos += n
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("seek to frame %d: %w", start, err)
		}
		if c.pos < start {
			return nil, nil
		}
	}

	samples, err := c.r.ReadFrames(end - start)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read frames %d-%d: %w", start, end, err)
	}
	c.pos += len(samples) / c.r.Format().Channels
	return samples, nil
}

func (c *clipper) close() {
	if c.r != nil {
		_ = c.r.Close()
		c.r = nil
	}
}
