package asr

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultChunkLengthSec keeps each chunk short enough to avoid endpoint
	// timeouts on long recordings.
	DefaultChunkLengthSec = 600
	// DefaultChunkOverlapSec gives the merger enough shared context to
	// align adjacent chunks.
	DefaultChunkOverlapSec = 10
	// DefaultChunkConcurrency bounds parallel engine calls.
	DefaultChunkConcurrency = 3
)

// AudioSplitter cuts an audio file into overlapping chunk files and returns
// their paths with each chunk's absolute offset in milliseconds. The media
// package provides the ffmpeg-backed implementation.
type AudioSplitter interface {
	SplitAudio(ctx context.Context, audioPath string, chunkLengthSec, overlapSec int) ([]AudioChunk, error)
}

// AudioChunk is one split piece of a longer recording.
type AudioChunk struct {
	Path     string
	OffsetMS int64
}

// ChunkedEngine decorates an Engine with long-audio chunking: the audio is
// split into overlapping pieces, transcribed concurrently, and the results
// are merged back into one transcript.
type ChunkedEngine struct {
	engine      Engine
	splitter    AudioSplitter
	merger      *ChunkMerger
	logger      *slog.Logger
	chunkLen    int
	overlap     int
	concurrency int
}

// NewChunkedEngine wraps an engine with chunked transcription using the
// default chunk length, overlap and concurrency.
func NewChunkedEngine(engine Engine, splitter AudioSplitter, logger *slog.Logger) *ChunkedEngine {
	return &ChunkedEngine{
		engine:      engine,
		splitter:    splitter,
		merger:      NewChunkMerger(logger),
		logger:      logger,
		chunkLen:    DefaultChunkLengthSec,
		overlap:     DefaultChunkOverlapSec,
		concurrency: DefaultChunkConcurrency,
	}
}

// Transcribe splits, transcribes concurrently and merges. Audio shorter
// than one chunk goes straight to the wrapped engine.
func (e *ChunkedEngine) Transcribe(ctx context.Context, audioPath string) (*Data, error) {
	chunks, err := e.splitter.SplitAudio(ctx, audioPath, e.chunkLen, e.overlap)
	if err != nil {
		return nil, fmt.Errorf("failed to split audio: %w", err)
	}

	if len(chunks) <= 1 {
		return e.engine.Transcribe(ctx, audioPath)
	}

	e.logger.Info("transcribing in chunks",
		slog.Int("chunks", len(chunks)),
		slog.Int("chunk_length_sec", e.chunkLen),
	)

	results := make([]*Data, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, chunk := range chunks {
		g.Go(func() error {
			data, err := e.engine.Transcribe(gctx, chunk.Path)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			results[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	offsets := make([]int64, len(chunks))
	for i, chunk := range chunks {
		offsets[i] = chunk.OffsetMS
	}

	return e.merger.MergeChunks(results, offsets, int64(e.overlap)*1000)
}

// Compile-time verification that both engines satisfy Engine.
var (
	_ Engine = (*HTTPEngine)(nil)
	_ Engine = (*LocalEngine)(nil)
	_ Engine = (*ChunkedEngine)(nil)
)
