package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Engine transcribes one audio file into a timed transcript.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string) (*Data, error)
}

// defaultChinesePrompt biases Whisper-family models toward simplified
// Chinese when no prompt is configured.
const defaultChinesePrompt = "你好，我们需要使用简体中文，以下是普通话的句子"

// HTTPEngineConfig holds configuration for the OpenAI-compatible
// transcription endpoint.
type HTTPEngineConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	Language       string
	Prompt         string
	WordTimestamps bool
	Timeout        time.Duration
}

// HTTPEngine calls an OpenAI-compatible /audio/transcriptions endpoint with
// verbose_json output.
type HTTPEngine struct {
	cfg    HTTPEngineConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPEngine creates an HTTP transcription engine.
func NewHTTPEngine(cfg HTTPEngineConfig, logger *slog.Logger) (*HTTPEngine, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("transcription base URL and API key must be set")
	}
	if cfg.Language == "" {
		cfg.Language = "zh"
	}
	if cfg.Language == "zh" && cfg.Prompt == "" {
		cfg.Prompt = defaultChinesePrompt
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}

	return &HTTPEngine{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

// verboseTranscription is the verbose_json response shape.
type verboseTranscription struct {
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
	Words []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

// Transcribe uploads the audio file and converts the response to segments.
// Word-level timestamps are used when requested and present.
func (e *HTTPEngine) Transcribe(ctx context.Context, audioPath string) (*Data, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}

	fields := map[string]string{
		"model":           e.cfg.Model,
		"response_format": "verbose_json",
		"language":        e.cfg.Language,
	}
	if e.cfg.Prompt != "" {
		fields["prompt"] = e.cfg.Prompt
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to build form: %w", err)
		}
	}
	if e.cfg.WordTimestamps {
		if err := mw.WriteField("timestamp_granularities[]", "word"); err != nil {
			return nil, fmt.Errorf("failed to build form: %w", err)
		}
		if err := mw.WriteField("timestamp_granularities[]", "segment"); err != nil {
			return nil, fmt.Errorf("failed to build form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish form: %w", err)
	}

	url := strings.TrimRight(e.cfg.BaseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transcription endpoint returned %d: %s", resp.StatusCode, payload)
	}

	var vt verboseTranscription
	if err := json.NewDecoder(resp.Body).Decode(&vt); err != nil {
		return nil, fmt.Errorf("failed to decode transcription: %w", err)
	}

	var segments []Segment
	if e.cfg.WordTimestamps && len(vt.Words) > 0 {
		for _, w := range vt.Words {
			segments = append(segments, Segment{
				Text:    w.Word,
				StartMS: int64(w.Start * 1000),
				EndMS:   int64(w.End * 1000),
			})
		}
	} else {
		for _, s := range vt.Segments {
			segments = append(segments, Segment{
				Text:    strings.TrimSpace(s.Text),
				StartMS: int64(s.Start * 1000),
				EndMS:   int64(s.End * 1000),
			})
		}
	}

	return NewData(segments), nil
}

// LocalEngineConfig holds configuration for a local transcription binary
// such as whisper.cpp.
type LocalEngineConfig struct {
	BinaryPath string
	ModelPath  string
	Language   string
	ExtraArgs  []string
}

// LocalEngine runs a whisper.cpp style binary and parses its SRT output.
type LocalEngine struct {
	cfg    LocalEngineConfig
	logger *slog.Logger
}

// NewLocalEngine creates a local transcription engine.
func NewLocalEngine(cfg LocalEngineConfig, logger *slog.Logger) (*LocalEngine, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("transcription binary path must be set")
	}
	if cfg.Language == "" {
		cfg.Language = "zh"
	}
	return &LocalEngine{cfg: cfg, logger: logger}, nil
}

// Transcribe runs the binary with SRT output next to the audio file and
// parses the result.
func (e *LocalEngine) Transcribe(ctx context.Context, audioPath string) (*Data, error) {
	outBase := strings.TrimSuffix(audioPath, filepath.Ext(audioPath))

	args := []string{
		"-f", audioPath,
		"-l", e.cfg.Language,
		"-osrt",
		"-of", outBase,
	}
	if e.cfg.ModelPath != "" {
		args = append(args, "-m", e.cfg.ModelPath)
	}
	args = append(args, e.cfg.ExtraArgs...)

	cmd := exec.CommandContext(ctx, e.cfg.BinaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("transcription binary failed: %w: %s", err, stderr.String())
	}

	srtPath := outBase + ".srt"
	content, err := os.ReadFile(srtPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcription output: %w", err)
	}
	defer os.Remove(srtPath)

	data, err := ParseSRT(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse transcription output: %w", err)
	}

	e.logger.Info("local transcription done",
		slog.String("audio", filepath.Base(audioPath)),
		slog.Int("segments", len(data.Segments)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return data, nil
}
