package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// Metadata is what we learn about a remote video without downloading it.
type Metadata struct {
	Title       string
	DurationSec float64
	Language    string

	// SubtitleURL points at the best available caption track, empty when
	// the source has none. SubtitleExt is its format ("vtt" or "srt").
	SubtitleURL string
	SubtitleExt string
}

// MetadataFetcher resolves remote video metadata.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, url string) (*Metadata, error)
}

// VideoDownloader fetches a remote video into a directory and returns the
// path of the downloaded file.
type VideoDownloader interface {
	DownloadVideo(ctx context.Context, url, destDir string) (string, error)
}

// YtDlpConfig holds configuration for the yt-dlp wrapper.
type YtDlpConfig struct {
	// BinaryPath is the path to the yt-dlp binary.
	// If empty, "yt-dlp" will be used (assumes it's in PATH).
	BinaryPath string

	// CookieFile is passed to yt-dlp when set, for sources that require
	// authenticated sessions.
	CookieFile string

	// Format is the yt-dlp format selector for video downloads.
	// Default prefers mp4 with m4a audio.
	Format string

	// RateLimitBytes caps download throughput in bytes per second.
	// Zero disables the cap.
	RateLimitBytes int64
}

// DefaultYtDlpConfig returns a YtDlpConfig with production-ready defaults.
func DefaultYtDlpConfig() YtDlpConfig {
	return YtDlpConfig{
		BinaryPath: "yt-dlp",
		Format:     "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best",
	}
}

// YtDlp implements MetadataFetcher and VideoDownloader over the yt-dlp CLI.
type YtDlp struct {
	config YtDlpConfig
	logger *slog.Logger
}

// Compile-time verification of the interfaces YtDlp serves.
var (
	_ MetadataFetcher = (*YtDlp)(nil)
	_ VideoDownloader = (*YtDlp)(nil)
)

// NewYtDlp creates a new yt-dlp wrapper.
func NewYtDlp(cfg YtDlpConfig, logger *slog.Logger) *YtDlp {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "yt-dlp"
	}
	if cfg.Format == "" {
		cfg.Format = DefaultYtDlpConfig().Format
	}
	return &YtDlp{config: cfg, logger: logger}
}

// FetchMetadata dumps the source's info JSON without downloading anything
// and extracts duration, title and the best caption track link.
func (y *YtDlp) FetchMetadata(ctx context.Context, url string) (*Metadata, error) {
	args := y.commonArgs()
	args = append(args, "--dump-single-json", "--skip-download", url)

	cmd := exec.CommandContext(ctx, y.config.BinaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("metadata fetch cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("yt-dlp execution failed: %w: %s", err, tail(stderr.String(), 512))
	}

	meta, err := parseInfoJSON(stdout.Bytes())
	if err != nil {
		return nil, err
	}

	y.logger.Info("metadata fetched",
		slog.String("title", meta.Title),
		slog.Float64("duration_sec", meta.DurationSec),
		slog.Bool("has_subtitle", meta.SubtitleURL != ""),
	)
	return meta, nil
}

// ProbeIdentity resolves the extractor name and content id for a URL, the
// stable identity that survives URL aliases and tracking parameters.
func (y *YtDlp) ProbeIdentity(ctx context.Context, url string) (extractor, contentID string, err error) {
	args := y.commonArgs()
	args = append(args, "--dump-single-json", "--skip-download", "--no-playlist", url)

	cmd := exec.CommandContext(ctx, y.config.BinaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", "", fmt.Errorf("identity probe cancelled: %w", ctx.Err())
		}
		return "", "", fmt.Errorf("yt-dlp execution failed: %w: %s", err, tail(stderr.String(), 512))
	}

	var info infoJSON
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return "", "", fmt.Errorf("failed to parse yt-dlp output: %w", err)
	}
	return info.Extractor, info.ID, nil
}

// DownloadVideo fetches the video into destDir and locates the resulting
// file by extension.
func (y *YtDlp) DownloadVideo(ctx context.Context, url, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	args := y.commonArgs()
	args = append(args,
		"-f", y.config.Format,
		"-o", "%(title).200s.%(ext)s",
		"-P", destDir,
		"--no-progress",
		url,
	)

	cmd := exec.CommandContext(ctx, y.config.BinaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("video download cancelled: %w", ctx.Err())
		}
		return "", fmt.Errorf("yt-dlp execution failed: %w: %s", err, tail(stderr.String(), 512))
	}

	path, err := findDownloadedVideo(destDir)
	if err != nil {
		return "", err
	}

	y.logger.Info("video downloaded", slog.String("path", filepath.Base(path)))
	return path, nil
}

func (y *YtDlp) commonArgs() []string {
	args := []string{"--quiet", "--no-warnings"}
	if y.config.CookieFile != "" {
		if _, err := os.Stat(y.config.CookieFile); err == nil {
			args = append(args, "--cookies", y.config.CookieFile)
		}
	}
	if y.config.RateLimitBytes > 0 {
		args = append(args, "--limit-rate", fmt.Sprintf("%d", y.config.RateLimitBytes))
	}
	return args
}

// infoJSON mirrors the subset of yt-dlp's info dump we consume.
type infoJSON struct {
	ID                string                  `json:"id"`
	Extractor         string                  `json:"extractor"`
	Title             string                  `json:"title"`
	Duration          float64                 `json:"duration"`
	Language          string                  `json:"language"`
	Subtitles         map[string][]captionFmt `json:"subtitles"`
	AutomaticCaptions map[string][]captionFmt `json:"automatic_captions"`
}

type captionFmt struct {
	Ext string `json:"ext"`
	URL string `json:"url"`
}

func parseInfoJSON(raw []byte) (*Metadata, error) {
	var info infoJSON
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("failed to parse yt-dlp output: %w", err)
	}

	lang := strings.ToLower(info.Language)
	if i := strings.Index(lang, "-"); i >= 0 {
		lang = lang[:i]
	}

	meta := &Metadata{
		Title:       info.Title,
		DurationSec: info.Duration,
		Language:    lang,
	}

	// Uploaded captions win over auto-generated ones.
	if url, ext := selectCaption(info.Subtitles, lang); url != "" {
		meta.SubtitleURL, meta.SubtitleExt = url, ext
	} else if url, ext := selectCaption(info.AutomaticCaptions, lang); url != "" {
		meta.SubtitleURL, meta.SubtitleExt = url, ext
	}

	return meta, nil
}

// selectCaption picks a track whose language code starts with the source
// language, preferring vtt/srt formats and falling back to the last listed.
func selectCaption(tracks map[string][]captionFmt, lang string) (url, ext string) {
	if len(tracks) == 0 || lang == "" {
		return "", ""
	}
	for code, formats := range tracks {
		if !strings.HasPrefix(strings.ToLower(code), lang) {
			continue
		}
		for _, f := range formats {
			if f.Ext == "vtt" || f.Ext == "srt" {
				return f.URL, f.Ext
			}
		}
		if len(formats) > 0 {
			last := formats[len(formats)-1]
			return last.URL, last.Ext
		}
	}
	return "", ""
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".webm": true, ".mov": true,
}

// findDownloadedVideo returns the largest video file in the directory,
// which skips partial fragments yt-dlp may leave behind.
func findDownloadedVideo(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read download directory: %w", err)
	}

	var best string
	var bestSize int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !videoExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			best = filepath.Join(dir, entry.Name())
			bestSize = info.Size()
		}
	}

	if best == "" {
		return "", fmt.Errorf("no video file found after download")
	}
	return best, nil
}

var unsafeTitleChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// SanitizeTitle makes a video title safe to use as a directory name.
func SanitizeTitle(title string) string {
	s := unsafeTitleChars.ReplaceAllString(title, "_")
	s = strings.TrimRight(s, " .")
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		return "video"
	}
	return s
}
