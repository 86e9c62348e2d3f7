// Package audiotest provides signal fixtures and a scripted stand-in for the
// ffmpeg binary, for use in tests.
package audiotest

import (
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/maauso/autoslicer/internal/audio"
)

// Mono16 is the default canonical format used by fixtures.
var Mono16 = audio.Format{SampleRate: 44100, Channels: 1, SampleWidth: 2}

// Tone returns interleaved samples of a sine wave at freq Hz with the given
// peak amplitude, duplicated across channels.
func Tone(frames int, f audio.Format, freq, amplitude float64) []int {
	out := make([]int, 0, frames*f.Channels)
	for i := 0; i < frames; i++ {
		v := int(math.Round(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(f.SampleRate))))
		for c := 0; c < f.Channels; c++ {
			out = append(out, v)
		}
	}
	return out
}

// Silence returns frames of all-zero samples.
func Silence(frames int, f audio.Format) []int {
	return make([]int, frames*f.Channels)
}

// Concat joins sample blocks in order.
func Concat(parts ...[]int) []int {
	var out []int
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// MsToFrames converts milliseconds to a frame count at the format's rate.
func MsToFrames(ms int, f audio.Format) int {
	return f.SampleRate * ms / 1000
}

// Bursts builds a recording of n tone bursts, each burstMs long, separated
// by gapMs of silence and preceded by leadMs of silence.
func Bursts(f audio.Format, n, leadMs, burstMs, gapMs int) []int {
	parts := [][]int{Silence(MsToFrames(leadMs, f), f)}
	for i := 0; i < n; i++ {
		parts = append(parts,
			Tone(MsToFrames(burstMs, f), f, 500, 12000),
			Silence(MsToFrames(gapMs, f), f),
		)
	}
	return Concat(parts...)
}

// WriteWAV writes samples to path and fails the test on error.
func WriteWAV(t testing.TB, path string, f audio.Format, samples []int) string {
	t.Helper()
	if err := audio.WritePCM(path, f, samples); err != nil {
		t.Fatalf("write wav fixture %s: %v", path, err)
	}
	return path
}

// fakeFFmpegScript copies WAV input to the last argument and fails, ffmpeg
// style, on empty or non-RIFF input.
const fakeFFmpegScript = `#!/bin/sh
src=""
dst=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "-i" ]; then src="$arg"; fi
  prev="$arg"
  dst="$arg"
done
if [ ! -s "$src" ]; then
  echo "[mov,mp4,m4a,3gp,3g2,mj2 @ 0x55d0c8] moov atom not found" >&2
  echo "$src: Invalid data found when processing input" >&2
  exit 1
fi
if [ "$(head -c 4 "$src")" != "RIFF" ]; then
  echo "[aac @ 0x55d0c8] Input buffer exhausted before END element found" >&2
  echo "$src: Invalid data found when processing input" >&2
  exit 1
fi
cp "$src" "$dst"
`

// FakeFFmpeg writes an executable stand-in for ffmpeg into a temporary
// directory and returns its path. Sources are expected to already hold WAV
// data in the target format.
func FakeFFmpeg(t testing.TB) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte(fakeFFmpegScript), 0o755); err != nil { // #nosec G306 - test helper must be executable
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	return path
}
