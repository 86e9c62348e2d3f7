package audio

import "math"

// Levels holds amplitude measurements over a block of frames.
type Levels struct {
	// PeakAmplitude is the largest absolute mono sample, in raw integer units.
	PeakAmplitude int
	// RMSAmplitude is the root-mean-square of the mono signal.
	RMSAmplitude float64
}

// Downmix averages each interleaved frame into a single mono value.
func Downmix(samples []int, channels int) []float64 {
	if channels <= 1 {
		mono := make([]float64, len(samples))
		for i, s := range samples {
			mono[i] = float64(s)
		}
		return mono
	}

	frames := len(samples) / channels
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for _, s := range samples[i*channels : (i+1)*channels] {
			sum += float64(s)
		}
		mono[i] = sum / float64(channels)
	}
	return mono
}

// RMS returns the root-mean-square of a mono block, or 0 for an empty block.
func RMS(mono []float64) float64 {
	if len(mono) == 0 {
		return 0
	}
	var sum float64
	for _, v := range mono {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(mono)))
}

// Measure computes peak and RMS amplitude over interleaved samples,
// downmixing to mono first when the format has several channels.
func Measure(samples []int, format Format) Levels {
	mono := Downmix(samples, format.Channels)

	var peak float64
	for _, v := range mono {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}

	return Levels{
		PeakAmplitude: int(math.Round(peak)),
		RMSAmplitude:  RMS(mono),
	}
}

// DBFS converts an amplitude to decibels relative to full scale. It returns
// nil when the amplitude is zero, where the level is undefined.
func DBFS(amplitude float64, format Format) *float64 {
	maxAmp := format.MaxAmplitude()
	if amplitude <= 0 || maxAmp <= 0 {
		return nil
	}
	db := 20 * math.Log10(amplitude/float64(maxAmp))
	return &db
}

// NormalizePeak scales a peak amplitude into [0, 1].
func NormalizePeak(peak int, format Format) float64 {
	maxAmp := format.MaxAmplitude()
	if maxAmp <= 0 {
		return 0
	}
	return math.Max(0, math.Min(1, float64(peak)/float64(maxAmp)))
}
