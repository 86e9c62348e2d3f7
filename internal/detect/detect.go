// Package detect finds transient-bounded sound events in canonical PCM
// recordings.
//
// Detection is a single synchronous pass: the stream is cut into ~10 ms hop
// windows, each window's mono RMS energy is compared against an adaptive
// threshold, and a two-state hysteresis machine (idle / in-slice) turns the
// energy sequence into slice candidates. A slice only closes after a
// sustained run of quiet windows, so momentary dips do not split an event.
package detect

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"

	"github.com/maauso/autoslicer/internal/audio"
)

// Threshold tuning.
const (
	hopSeconds       = 0.01
	medianFactor     = 1.5
	peakFloorFactor  = 0.08
	peakFactor       = 0.25
	absoluteFloor    = 300.0
	peakCeilingRatio = 0.95
)

// ErrInvalidParams is returned when an explicit parameter is negative.
var ErrInvalidParams = errors.New("invalid detection parameters")

// Params controls detection. Zero fields fall back to DefaultParams.
type Params struct {
	// MaxSlices caps the number of candidates returned.
	MaxSlices int
	// MinSliceMs is the shortest span kept as a slice on its own.
	MinSliceMs int
	// MinGapMs is the run of quiet audio that closes a slice.
	MinGapMs int
}

// DefaultParams returns the default detection parameters.
func DefaultParams() Params {
	return Params{
		MaxSlices:  8,
		MinSliceMs: 80,
		MinGapMs:   60,
	}
}

func (p Params) withDefaults() (Params, error) {
	if p.MaxSlices < 0 || p.MinSliceMs < 0 || p.MinGapMs < 0 {
		return p, fmt.Errorf("%w: %+v", ErrInvalidParams, p)
	}
	def := DefaultParams()
	if p.MaxSlices == 0 {
		p.MaxSlices = def.MaxSlices
	}
	if p.MinSliceMs == 0 {
		p.MinSliceMs = def.MinSliceMs
	}
	if p.MinGapMs == 0 {
		p.MinGapMs = def.MinGapMs
	}
	return p, nil
}

// Candidate is a detected region in frame coordinates. EndFrame is exclusive.
type Candidate struct {
	StartFrame int
	EndFrame   int
	// PeakRMS is the highest window energy inside the candidate.
	PeakRMS float64
	// EnergySqSum and FrameTotal accumulate sum(energy^2 * frames) and the
	// frame count, giving the average RMS without keeping samples.
	EnergySqSum float64
	FrameTotal  int
}

// Frames returns the candidate's length in frames.
func (c Candidate) Frames() int {
	return c.EndFrame - c.StartFrame
}

// AverageRMS returns sqrt(EnergySqSum / FrameTotal).
func (c Candidate) AverageRMS() float64 {
	if c.FrameTotal == 0 {
		return 0
	}
	return math.Sqrt(c.EnergySqSum / float64(c.FrameTotal))
}

func (c *Candidate) add(w window) {
	c.PeakRMS = math.Max(c.PeakRMS, w.energy)
	c.EnergySqSum += w.energy * w.energy * float64(w.frames)
	c.FrameTotal += w.frames
}

func combine(a, b Candidate) Candidate {
	return Candidate{
		StartFrame:  min(a.StartFrame, b.StartFrame),
		EndFrame:    max(a.EndFrame, b.EndFrame),
		PeakRMS:     math.Max(a.PeakRMS, b.PeakRMS),
		EnergySqSum: a.EnergySqSum + b.EnergySqSum,
		FrameTotal:  a.FrameTotal + b.FrameTotal,
	}
}

// Result summarises one detection run.
type Result struct {
	Format audio.Format
	// TotalFrames is the number of frames actually read from the stream.
	TotalFrames int
	// Threshold is the adaptive energy threshold that was applied.
	Threshold  float64
	Candidates []Candidate
}

// window is one hop's energy measurement.
type window struct {
	energy float64
	offset int
	frames int
}

// Detector scans PCM files for transients.
type Detector struct {
	logger *slog.Logger
}

// NewDetector creates a Detector. A nil logger falls back to slog.Default().
func NewDetector(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{logger: logger}
}

// Detect scans the WAV file at pcmPath and returns the detected candidates,
// ordered by start frame and capped at p.MaxSlices. It returns
// audio.ErrNotFound when the file does not exist.
func (d *Detector) Detect(pcmPath string, p Params) (*Result, error) {
	p, err := p.withDefaults()
	if err != nil {
		return nil, err
	}

	r, err := audio.OpenPCM(pcmPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	format := r.Format()
	windows, total, err := readWindows(r, hopFrames(format.SampleRate))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", pcmPath, err)
	}

	threshold := adaptiveThreshold(windows)
	minSlice := msToFrames(format.SampleRate, p.MinSliceMs)
	minGap := msToFrames(format.SampleRate, p.MinGapMs)

	candidates := scan(windows, threshold, minSlice, minGap, p.MaxSlices, total)
	candidates = merge(candidates, minSlice)
	if len(candidates) > p.MaxSlices {
		candidates = candidates[:p.MaxSlices]
	}

	d.logger.Debug("transient detection complete",
		slog.String("path", pcmPath),
		slog.Int("windows", len(windows)),
		slog.Int("total_frames", total),
		slog.Float64("threshold", threshold),
		slog.Int("candidates", len(candidates)),
	)

	return &Result{
		Format:      format,
		TotalFrames: total,
		Threshold:   threshold,
		Candidates:  candidates,
	}, nil
}

func hopFrames(sampleRate int) int {
	return max(1, int(float64(sampleRate)*hopSeconds))
}

func msToFrames(sampleRate, ms int) int {
	return max(1, sampleRate*ms/1000)
}

// readWindows measures the mono RMS energy of every hop window, including a
// final short window.
func readWindows(r *audio.PCMReader, hop int) ([]window, int, error) {
	channels := r.Format().Channels
	windows := make([]window, 0, r.DeclaredFrames()/hop+1)
	offset := 0

	for {
		block, err := r.ReadFrames(hop)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		frames := len(block) / channels
		windows = append(windows, window{
			energy: audio.RMS(audio.Downmix(block, channels)),
			offset: offset,
			frames: frames,
		})
		offset += frames
	}

	return windows, offset, nil
}

// adaptiveThreshold balances a median-relative floor (sensitive to quiet
// recordings) against an absolute noise floor, capped below the loudest
// window so the peak event always triggers.
func adaptiveThreshold(windows []window) float64 {
	var peak float64
	nonZero := make([]float64, 0, len(windows))
	for _, w := range windows {
		peak = math.Max(peak, w.energy)
		if w.energy > 0 {
			nonZero = append(nonZero, w.energy)
		}
	}
	if peak <= 0 {
		return 0
	}

	med := median(nonZero)
	floor := peak * peakFloorFactor
	if med > 0 {
		floor = med * medianFactor
	}

	threshold := math.Max(floor, math.Max(peak*peakFactor, absoluteFloor))
	return math.Min(threshold, peak*peakCeilingRatio)
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// scan runs the idle/in-slice hysteresis machine over the windows.
func scan(windows []window, threshold float64, minSlice, minGap, maxSlices, total int) []Candidate {
	var (
		out     []Candidate
		cur     Candidate
		inSlice bool
		silence int
	)
	if threshold <= 0 {
		return nil
	}

	for _, w := range windows {
		loud := w.energy >= threshold

		if !inSlice {
			if loud {
				cur = Candidate{StartFrame: w.offset}
				cur.add(w)
				inSlice = true
				silence = 0
			}
			continue
		}

		cur.add(w)
		if loud {
			silence = 0
			continue
		}

		silence += w.frames
		if silence < minGap {
			continue
		}

		cur.EndFrame = max(w.offset, cur.StartFrame+1)
		inSlice = false
		if cur.Frames() >= minSlice {
			out = append(out, cur)
			if len(out) >= maxSlices {
				return out
			}
		}
	}

	// Trailing material is always kept, whatever its length.
	if inSlice {
		cur.EndFrame = total
		out = append(out, cur)
	}
	return out
}

// merge folds candidates shorter than minSlice into the following candidate
// until the combined span is long enough. A short remainder at the end is
// kept as-is.
func merge(candidates []Candidate, minSlice int) []Candidate {
	merged := make([]Candidate, 0, len(candidates))
	var pending *Candidate

	for _, c := range candidates {
		if pending != nil {
			c = combine(*pending, c)
			pending = nil
		}
		if c.Frames() < minSlice {
			p := c
			pending = &p
			continue
		}
		merged = append(merged, c)
	}

	if pending != nil {
		merged = append(merged, *pending)
	}
	return merged
}
