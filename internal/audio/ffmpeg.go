package audio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// unknownError is the summary used when the encoder produced no diagnostics.
const unknownError = "unknown error"

// FFmpegConverter implements Converter using the ffmpeg CLI.
type FFmpegConverter struct {
	ffmpegPath string
	format     Format
}

// NewFFmpegConverter creates a new FFmpegConverter that produces WAV files in
// the given format.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH).
func NewFFmpegConverter(ffmpegPath string, format Format) *FFmpegConverter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegConverter{ffmpegPath: ffmpegPath, format: format}
}

// Format returns the canonical format produced by the converter.
func (c *FFmpegConverter) Format() Format {
	return c.format
}

// Convert implements Converter.Convert. The destination is overwritten, the
// stream is re-mixed to the configured channel count, resampled, and forced
// to the configured sample format.
func (c *FFmpegConverter) Convert(ctx context.Context, src, dst string) (string, error) {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, src)
	}

	codec, err := pcmCodec(c.format.SampleWidth)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y", // Overwrite output
		"-i", src,
		"-vn",
		"-ac", strconv.Itoa(c.format.Channels),
		"-ar", strconv.Itoa(c.format.SampleRate),
		"-c:a", codec,
		dst,
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	diagnostics := stderr.String()
	if strings.TrimSpace(diagnostics) == "" {
		diagnostics = stdout.String()
	}

	if runErr != nil {
		_ = os.Remove(dst)
		if ctx.Err() != nil {
			return "", fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return "", fmt.Errorf("%w: %s: %w", ErrEncoderUnavailable, c.ffmpegPath, runErr)
		}
		return "", newConversionError(src, dst, diagnostics, runErr)
	}

	if _, err := os.Stat(dst); err != nil {
		return "", newConversionError(src, dst, diagnostics, fmt.Errorf("output not created: %w", err))
	}

	return dst, nil
}

// pcmCodec maps a sample width to the ffmpeg PCM encoder forcing that format.
func pcmCodec(width int) (string, error) {
	switch width {
	case 1:
		return "pcm_u8", nil
	case 2:
		return "pcm_s16le", nil
	case 3:
		return "pcm_s24le", nil
	case 4:
		return "pcm_s32le", nil
	default:
		return "", fmt.Errorf("%w: sample width %d", ErrUnsupportedFormat, width)
	}
}

// ConversionError represents a failed transcode. Summary is a short,
// human-readable description derived from the encoder's diagnostic output.
type ConversionError struct {
	Source      string
	Dest        string
	Summary     string
	Diagnostics string
	Err         error
}

// newConversionError summarises diagnostics, falling back to the process
// error when the encoder printed nothing.
func newConversionError(src, dst, diagnostics string, err error) *ConversionError {
	summary := SummarizeDiagnostics(diagnostics)
	if strings.TrimSpace(diagnostics) == "" {
		summary = err.Error()
	}
	return &ConversionError{
		Source:      src,
		Dest:        dst,
		Summary:     summary,
		Diagnostics: diagnostics,
		Err:         err,
	}
}

func (e *ConversionError) Error() string {
	return "conversion failed: " + e.Summary
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// SummarizeDiagnostics reduces free-form encoder output to a single line.
// Lines are scanned in order and the first line matching a known pattern
// wins; otherwise the last non-blank line is used.
func SummarizeDiagnostics(output string) string {
	var last string
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		last = line

		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "moov atom not found"):
			return "moov atom not found (file appears incomplete or truncated)"
		case strings.Contains(lower, "invalid data") && strings.Contains(lower, "when processing input"):
			return "invalid data found while parsing input"
		case strings.HasPrefix(lower, "error:"):
			if msg := strings.TrimSpace(line[len("error:"):]); msg != "" {
				return msg
			}
		}
	}

	if last == "" {
		return unknownError
	}
	return last
}
