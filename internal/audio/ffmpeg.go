// Package audio provides the ffmpeg-backed analysis and extraction providers
// used by the segmentation pipeline.
package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/maauso/speechsplit/internal/segment"
)

// Verify interface implementation at compile time.
var (
	_ segment.Analyzer  = (*FFmpeg)(nil)
	_ segment.Extractor = (*FFmpeg)(nil)
)

// ErrInputNotFound is returned when the file to analyze does not exist.
var ErrInputNotFound = errors.New("input file does not exist")

var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*(-?[\d.]+)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*(-?[\d.]+)`)
	durationRe     = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)
)

// FFmpeg implements segment.Analyzer and segment.Extractor using the ffmpeg
// and ffprobe CLIs.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	codecArgs   []string
}

// Option configures an FFmpeg provider.
type Option func(*FFmpeg)

// WithCodecArgs replaces the encoder arguments used by Extract.
// Default: Ogg Vorbis at quality 4.
func WithCodecArgs(args ...string) Option {
	return func(f *FFmpeg) {
		f.codecArgs = args
	}
}

// NewFFmpeg creates a new FFmpeg provider.
// Empty paths default to "ffmpeg" and "ffprobe" (found in PATH).
func NewFFmpeg(ffmpegPath, ffprobePath string, opts ...Option) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	f := &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		codecArgs:   []string{"-c:a", "libvorbis", "-q:a", "4"},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// probeOutput is the subset of `ffprobe -show_format -of json` we read.
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeDuration returns the duration of an audio file in seconds using
// ffprobe. When ffprobe is not installed it falls back to the Duration line
// ffmpeg prints for its input.
func (f *FFmpeg) ProbeDuration(ctx context.Context, inputPath string) (float64, error) {
	if err := checkInput(inputPath); err != nil {
		return 0, err
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "error",
		"-hide_banner",
		"-show_format",
		"-of", "json",
		"--", inputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return f.durationFromFFmpeg(ctx, inputPath)
		}
		return 0, fmt.Errorf("ffprobe error: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(probe.Format.Duration), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", probe.Format.Duration, err)
	}
	return d, nil
}

// durationFromFFmpeg parses "Duration: HH:MM:SS.ms" from ffmpeg's banner.
func (f *FFmpeg) durationFromFFmpeg(ctx context.Context, inputPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, f.ffmpegPath,
		"-i", inputPath,
		"-hide_banner",
		"-f", "null", "-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// ffmpeg writes duration info to stderr
	_ = cmd.Run()
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return parseDuration(stderr.String())
}

// parseDuration extracts the first Duration line from ffmpeg output.
func parseDuration(output string) (float64, error) {
	matches := durationRe.FindStringSubmatch(output)
	if len(matches) < 5 {
		return 0, fmt.Errorf("could not parse duration from ffmpeg output: %s", output)
	}

	hours, _ := strconv.ParseFloat(matches[1], 64)
	minutes, _ := strconv.ParseFloat(matches[2], 64)
	seconds, _ := strconv.ParseFloat(matches[3], 64)
	frac, _ := strconv.ParseFloat("0."+matches[4], 64)

	return hours*3600 + minutes*60 + seconds + frac, nil
}

// DetectSilence runs ffmpeg silencedetect and returns the silent intervals.
func (f *FFmpeg) DetectSilence(ctx context.Context, inputPath string, p segment.Params) ([]segment.SilenceInterval, error) {
	if err := checkInput(inputPath); err != nil {
		return nil, err
	}

	filter := fmt.Sprintf("silencedetect=noise=%sdB:d=%s",
		strconv.FormatFloat(p.ThresholdDB, 'f', -1, 64),
		strconv.FormatFloat(p.MinSilence(), 'f', -1, 64),
	)

	cmd := exec.CommandContext(ctx, f.ffmpegPath,
		"-hide_banner",
		"-nostats",
		"-i", inputPath,
		"-af", filter,
		"-f", "null",
		"-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// ffmpeg writes silencedetect output to stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("ffmpeg error: %w, stderr: %s", err, tail(stderr.String(), 512))
	}

	return parseSilenceOutput(stderr.String()), nil
}

// parseSilenceOutput parses ffmpeg silencedetect output.
//
// Start and end markers are collected independently. A silence running to
// the end of the input has no end marker; when the output carries the input
// Duration line it is closed there. Otherwise, and for any other count
// mismatch, the shorter list is padded with its own last value, which drops
// an open trailing silence. Pairs that do not form a positive interval are
// dropped.
func parseSilenceOutput(output string) []segment.SilenceInterval {
	var starts, ends []float64

	for _, line := range strings.Split(output, "\n") {
		if m := silenceStartRe.FindStringSubmatch(line); len(m) > 1 {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				starts = append(starts, v)
			}
			continue
		}
		if m := silenceEndRe.FindStringSubmatch(line); len(m) > 1 {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				ends = append(ends, v)
			}
		}
	}

	if n := len(ends); len(starts) == n+1 && (n == 0 || starts[n] >= ends[n-1]) {
		if total, err := parseDuration(output); err == nil && total > starts[n] {
			ends = append(ends, total)
		}
	}

	if len(starts) == 0 || len(ends) == 0 {
		return nil
	}
	starts = padTo(starts, len(ends))
	ends = padTo(ends, len(starts))

	intervals := make([]segment.SilenceInterval, 0, len(starts))
	for i := range starts {
		if ends[i] > starts[i] {
			intervals = append(intervals, segment.SilenceInterval{Start: starts[i], End: ends[i]})
		}
	}
	return intervals
}

// padTo repeats the last element of values until it has n elements.
func padTo(values []float64, n int) []float64 {
	for len(values) < n {
		values = append(values, values[len(values)-1])
	}
	return values
}

// Extract writes [start, start+duration) of inputPath to outputPath.
func (f *FFmpeg) Extract(ctx context.Context, inputPath string, start, duration float64, outputPath string) error {
	// Create output directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(outputPath), 0750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	args := []string{
		"-y", // Overwrite output
		"-hide_banner",
		"-ss", fmt.Sprintf("%.3f", start),
		"-i", inputPath,
		"-t", fmt.Sprintf("%.3f", duration),
	}
	args = append(args, f.codecArgs...)
	args = append(args, "-avoid_negative_ts", "1", outputPath)

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg error: %w, stderr: %s", err, tail(stderr.String(), 512))
	}

	return nil
}

// ListSegments lists the exported segment files for base in dir, sorted by
// name.
func ListSegments(dir, base string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	prefix := base + "_segment_"
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}

	sort.Strings(files)
	return files, nil
}

func checkInput(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrInputNotFound, path)
	}
	return nil
}

// tail returns at most the last n bytes of s.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
