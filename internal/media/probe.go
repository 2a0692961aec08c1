package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Info describes a probed media file. Audio-only files have zero
// width/height/FPS.
type Info struct {
	DurationSec float64
	Width       int
	Height      int
	FPS         float64
	BitrateKbps int
	VideoCodec  string
	AudioCodec  string
	HasVideo    bool
	HasAudio    bool

	// AudioStreams lists every audio track for multi-track selection.
	AudioStreams []AudioStream
}

// AudioStream identifies one audio track within a container.
type AudioStream struct {
	Index    int
	Codec    string
	Language string
}

// Prober extracts stream metadata from a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (*Info, error)
}

// FFProbeConfig holds configuration for the ffprobe-based prober.
type FFProbeConfig struct {
	// BinaryPath is the path to the ffprobe binary.
	// If empty, "ffprobe" will be used (assumes it's in PATH).
	BinaryPath string
}

// DefaultFFProbeConfig returns an FFProbeConfig with production-ready defaults.
func DefaultFFProbeConfig() FFProbeConfig {
	return FFProbeConfig{
		BinaryPath: "ffprobe",
	}
}

// FFProbe implements Prober using the ffprobe CLI.
type FFProbe struct {
	config FFProbeConfig
}

// Compile-time verification that FFProbe implements Prober.
var _ Prober = (*FFProbe)(nil)

// NewFFProbe creates a new ffprobe-based prober.
func NewFFProbe(cfg FFProbeConfig) *FFProbe {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "ffprobe"
	}
	return &FFProbe{config: cfg}
}

// Probe runs ffprobe with JSON output and parses the stream layout.
func (p *FFProbe) Probe(ctx context.Context, path string) (*Info, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("media file does not exist: %s", path)
		}
		return nil, fmt.Errorf("failed to access media file: %w", err)
	}

	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, p.config.BinaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("probe cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("ffprobe execution failed: %w: %s", err, stderr.String())
	}

	return parseProbeOutput(stdout.Bytes())
}

// probeOutput mirrors the subset of ffprobe's JSON we consume.
type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Index        int    `json:"index"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		Tags         struct {
			Language string `json:"language"`
		} `json:"tags"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

func parseProbeOutput(raw []byte) (*Info, error) {
	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &Info{}

	if out.Format.Duration != "" {
		d, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse duration %q: %w", out.Format.Duration, err)
		}
		info.DurationSec = d
	}
	if out.Format.BitRate != "" {
		if b, err := strconv.ParseInt(out.Format.BitRate, 10, 64); err == nil {
			info.BitrateKbps = int(b / 1000)
		}
	}

	audioTrack := 0
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			// mjpeg streams are usually embedded cover art, not real video
			if s.CodecName == "mjpeg" || s.CodecName == "png" {
				continue
			}
			if !info.HasVideo {
				info.HasVideo = true
				info.VideoCodec = s.CodecName
				info.Width = s.Width
				info.Height = s.Height
				info.FPS = parseFrameRate(s.AvgFrameRate)
			}
		case "audio":
			if !info.HasAudio {
				info.HasAudio = true
				info.AudioCodec = s.CodecName
			}
			info.AudioStreams = append(info.AudioStreams, AudioStream{
				Index:    audioTrack,
				Codec:    s.CodecName,
				Language: s.Tags.Language,
			})
			audioTrack++
		}
	}

	if !info.HasVideo && !info.HasAudio {
		return nil, fmt.Errorf("no video or audio streams found")
	}

	return info, nil
}

// parseFrameRate converts ffprobe's "num/den" rational to a float.
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
