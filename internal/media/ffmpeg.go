package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/hszk-dev/sumcache/internal/asr"
)

// AudioExtractor pulls one audio track out of a media file as 16 kHz mono
// WAV, the input format transcription engines expect.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, inputPath, outputPath string, trackIndex int) error
}

// FFmpegConfig holds configuration for the FFmpeg audio toolbox.
type FFmpegConfig struct {
	// BinaryPath is the path to the ffmpeg binary.
	// If empty, "ffmpeg" will be used (assumes it's in PATH).
	BinaryPath string

	// SampleRate is the output sample rate in Hz for extracted audio.
	// Default: 16000
	SampleRate int
}

// DefaultFFmpegConfig returns an FFmpegConfig with production-ready defaults.
func DefaultFFmpegConfig() FFmpegConfig {
	return FFmpegConfig{
		BinaryPath: "ffmpeg",
		SampleRate: 16000,
	}
}

// FFmpeg implements audio extraction, chunk splitting and loudness
// measurement on top of the ffmpeg CLI.
type FFmpeg struct {
	config FFmpegConfig
	prober Prober
	logger *slog.Logger
}

// Compile-time verification of the interfaces FFmpeg serves.
var (
	_ AudioExtractor    = (*FFmpeg)(nil)
	_ asr.AudioSplitter = (*FFmpeg)(nil)
)

// NewFFmpeg creates a new ffmpeg-based audio toolbox. The prober is used to
// determine audio duration when splitting into chunks.
func NewFFmpeg(cfg FFmpegConfig, prober Prober, logger *slog.Logger) *FFmpeg {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "ffmpeg"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	return &FFmpeg{config: cfg, prober: prober, logger: logger}
}

// ExtractAudio converts the selected audio track to 16 kHz mono WAV.
func (f *FFmpeg) ExtractAudio(ctx context.Context, inputPath, outputPath string, trackIndex int) error {
	if err := validateInputFile(inputPath); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	args := []string{
		"-i", inputPath,
		"-map", fmt.Sprintf("0:a:%d", trackIndex),
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(f.config.SampleRate),
		"-y",
		outputPath,
	}

	if err := f.run(ctx, args); err != nil {
		return err
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("audio extraction produced no output")
	}

	f.logger.Info("audio extracted",
		slog.String("input", filepath.Base(inputPath)),
		slog.Int("track", trackIndex),
		slog.Int64("bytes", info.Size()),
	)
	return nil
}

// SplitAudio cuts the audio into overlapping chunk files next to the input
// (<base>_chunks/chunk_NNN.wav). Audio fitting in a single chunk returns one
// entry pointing at the original file, with no cutting.
func (f *FFmpeg) SplitAudio(ctx context.Context, audioPath string, chunkLengthSec, overlapSec int) ([]asr.AudioChunk, error) {
	if err := validateInputFile(audioPath); err != nil {
		return nil, err
	}

	info, err := f.prober.Probe(ctx, audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to probe audio: %w", err)
	}

	spans := planChunks(info.DurationSec, chunkLengthSec, overlapSec)
	if len(spans) <= 1 {
		return []asr.AudioChunk{{Path: audioPath, OffsetMS: 0}}, nil
	}

	chunkDir := strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + "_chunks"
	if err := os.MkdirAll(chunkDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create chunk directory: %w", err)
	}

	chunks := make([]asr.AudioChunk, 0, len(spans))
	for i, span := range spans {
		chunkPath := filepath.Join(chunkDir, fmt.Sprintf("chunk_%03d.wav", i))
		args := []string{
			"-ss", strconv.Itoa(span.startSec),
			"-t", strconv.Itoa(span.lengthSec),
			"-i", audioPath,
			"-c", "copy",
			"-y",
			chunkPath,
		}
		if err := f.run(ctx, args); err != nil {
			return nil, fmt.Errorf("failed to cut chunk %d: %w", i, err)
		}
		chunks = append(chunks, asr.AudioChunk{
			Path:     chunkPath,
			OffsetMS: int64(span.startSec) * 1000,
		})
	}

	f.logger.Info("audio split into chunks",
		slog.String("audio", filepath.Base(audioPath)),
		slog.Int("chunks", len(chunks)),
	)
	return chunks, nil
}

var meanVolumeRe = regexp.MustCompile(`mean_volume:\s*(-?\d+(?:\.\d+)?)\s*dB`)

// MeasureRMS returns the mean loudness of the audio as a linear RMS value
// in [0, 1], derived from ffmpeg's volumedetect filter.
func (f *FFmpeg) MeasureRMS(ctx context.Context, audioPath string) (float64, error) {
	if err := validateInputFile(audioPath); err != nil {
		return 0, err
	}

	args := []string{
		"-i", audioPath,
		"-af", "volumedetect",
		"-f", "null",
		"-",
	}

	cmd := exec.CommandContext(ctx, f.config.BinaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("loudness measurement cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("ffmpeg execution failed: %w", err)
	}

	match := meanVolumeRe.FindStringSubmatch(stderr.String())
	if match == nil {
		return 0, fmt.Errorf("no volume information in ffmpeg output")
	}
	db, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse mean volume %q: %w", match[1], err)
	}

	return math.Pow(10, db/20), nil
}

func (f *FFmpeg) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, f.config.BinaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg execution failed: %w: %s", err, tail(stderr.String(), 512))
	}
	return nil
}

// chunkSpan is one planned cut of a longer recording.
type chunkSpan struct {
	startSec  int
	lengthSec int
}

// planChunks lays out overlapping cuts: each chunk starts stride
// (length - overlap) seconds after the previous one.
func planChunks(durationSec float64, chunkLengthSec, overlapSec int) []chunkSpan {
	if durationSec <= 0 || chunkLengthSec <= 0 {
		return nil
	}
	if overlapSec >= chunkLengthSec {
		overlapSec = 0
	}
	if durationSec <= float64(chunkLengthSec) {
		return []chunkSpan{{startSec: 0, lengthSec: chunkLengthSec}}
	}

	stride := chunkLengthSec - overlapSec
	var spans []chunkSpan
	for start := 0; float64(start) < durationSec; start += stride {
		spans = append(spans, chunkSpan{startSec: start, lengthSec: chunkLengthSec})
	}
	return spans
}

func validateInputFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %s", path)
		}
		return fmt.Errorf("failed to access input file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input path is a directory, expected a file: %s", path)
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
