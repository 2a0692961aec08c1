package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hszk-dev/sumcache/internal/domain/model"
	"github.com/hszk-dev/sumcache/internal/domain/repository"
)

var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".webm": true, ".mov": true,
	".avi": true, ".flv": true, ".wmv": true,
}

var audioExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".flac": true, ".aac": true,
	".m4a": true, ".ogg": true, ".wma": true,
}

var subtitleExtensions = map[string]bool{
	".srt": true, ".vtt": true, ".ass": true, ".ssa": true, ".sub": true,
}

var videoMimes = map[string]bool{
	"video/mp4": true, "video/x-matroska": true, "video/webm": true,
	"video/quicktime": true, "video/x-msvideo": true, "video/x-flv": true,
	"video/x-ms-wmv": true,
}

var audioMimes = map[string]bool{
	"audio/mpeg": true, "audio/wav": true, "audio/x-wav": true,
	"audio/flac": true, "audio/aac": true, "audio/mp4": true,
	"audio/ogg": true, "audio/x-ms-wma": true,
}

const fallbackMime = "application/octet-stream"

// unsafeFilenameChars matches path separators, shell-hostile characters and
// control bytes in an uploaded filename.
var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// LocalStoreConfig holds configuration for the local upload store.
type LocalStoreConfig struct {
	Root             string
	MaxFileSizeBytes int64
	ChunkSize        int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	TTLSeconds       int64
	SweepInterval    time.Duration
	Concurrency      int64
}

// DefaultLocalStoreConfig returns a LocalStoreConfig with sensible defaults.
func DefaultLocalStoreConfig(root string) LocalStoreConfig {
	return LocalStoreConfig{
		Root:             root,
		MaxFileSizeBytes: 2048 * 1024 * 1024,
		ChunkSize:        8 * 1024 * 1024,
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     30 * time.Second,
		TTLSeconds:       86400,
		SweepInterval:    time.Hour,
		Concurrency:      2,
	}
}

// LocalStore implements repository.FileStorage on the local filesystem.
// Files are stored at Root/<file_id>/<safe_name>; metadata lives in the
// upload repository.
type LocalStore struct {
	cfg     LocalStoreConfig
	uploads repository.UploadRepository
	logger  *slog.Logger
	sem     *semaphore.Weighted

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewLocalStore creates a local upload store rooted at cfg.Root.
func NewLocalStore(cfg LocalStoreConfig, uploads repository.UploadRepository, logger *slog.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload root: %w", err)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	return &LocalStore{
		cfg:     cfg,
		uploads: uploads,
		logger:  logger,
		sem:     semaphore.NewWeighted(cfg.Concurrency),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// SaveStream ingests an upload in chunks, enforcing the type and size rules.
// A failed ingest leaves no partial file behind.
func (s *LocalStore) SaveStream(ctx context.Context, read repository.ChunkReader, originalName, contentType string) (*model.Upload, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire upload slot: %w", err)
	}
	defer s.sem.Release(1)

	fileType, mimeType, err := detectFileType(originalName, contentType)
	if err != nil {
		return nil, err
	}

	fileID := model.NewFileID()
	safeName := sanitizeFilename(originalName)
	fileDir := filepath.Join(s.cfg.Root, fileID)
	if err := os.MkdirAll(fileDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	storedPath := filepath.Join(fileDir, safeName)

	size, fileHash, err := s.ingest(ctx, read, storedPath)
	if err != nil {
		s.cleanupPhysical(storedPath)
		return nil, err
	}

	upload := &model.Upload{
		FileID:       fileID,
		OriginalName: originalName,
		Size:         size,
		MimeType:     mimeType,
		FileType:     fileType,
		StoredPath:   storedPath,
		FileHash:     fileHash,
		CreatedAt:    time.Now(),
		TTLSeconds:   s.cfg.TTLSeconds,
	}

	if err := s.uploads.Upsert(ctx, upload); err != nil {
		s.cleanupPhysical(storedPath)
		return nil, fmt.Errorf("failed to persist upload record: %w", err)
	}

	s.logger.Info("upload stored",
		slog.String("file_id", fileID),
		slog.String("file_type", fileType.String()),
		slog.Int64("size", size),
	)

	return upload, nil
}

// ingest streams chunks into the target file and returns the byte count and
// content hash. The size cap is checked after each chunk.
func (s *LocalStore) ingest(ctx context.Context, read repository.ChunkReader, storedPath string) (int64, string, error) {
	f, err := os.Create(storedPath)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer f.Close()

	var size int64
	hasher := sha256.New()

	for {
		if err := ctx.Err(); err != nil {
			return 0, "", fmt.Errorf("upload aborted: %w", err)
		}

		chunk, err := s.readChunk(read)
		if err != nil {
			return 0, "", err
		}
		if len(chunk) == 0 {
			break
		}

		size += int64(len(chunk))
		hasher.Write(chunk)
		if size > s.cfg.MaxFileSizeBytes {
			return 0, "", fmt.Errorf("%w: %d bytes exceeds limit %d",
				repository.ErrTooLarge, size, s.cfg.MaxFileSizeBytes)
		}

		if err := s.writeChunk(f, chunk); err != nil {
			return 0, "", err
		}
	}

	if size == 0 {
		return 0, "", repository.ErrEmptyUpload
	}

	if err := f.Sync(); err != nil {
		return 0, "", fmt.Errorf("failed to sync upload file: %w", err)
	}

	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}

type chunkResult struct {
	data []byte
	err  error
}

// readChunk reads the next chunk with the configured per-chunk deadline.
// A stalled client turns into ErrTimedOut instead of holding the slot.
func (s *LocalStore) readChunk(read repository.ChunkReader) ([]byte, error) {
	ch := make(chan chunkResult, 1)
	go func() {
		data, err := read(s.cfg.ChunkSize)
		ch <- chunkResult{data: data, err: err}
	}()

	timer := time.NewTimer(s.cfg.ReadTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil && !errors.Is(r.err, io.EOF) {
			return nil, fmt.Errorf("failed to read upload chunk: %w", r.err)
		}
		return r.data, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: read chunk", repository.ErrTimedOut)
	}
}

// writeChunk writes one chunk with the configured per-chunk deadline.
func (s *LocalStore) writeChunk(f *os.File, chunk []byte) error {
	ch := make(chan error, 1)
	go func() {
		_, err := f.Write(chunk)
		ch <- err
	}()

	timer := time.NewTimer(s.cfg.WriteTimeout)
	defer timer.Stop()

	select {
	case err := <-ch:
		if err != nil {
			return fmt.Errorf("failed to write upload chunk: %w", err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: write chunk", repository.ErrTimedOut)
	}
}

// Get returns the upload for a file_id. Expired records and records whose
// stored file is missing are purged on the way out.
func (s *LocalStore) Get(ctx context.Context, fileID string) (*model.Upload, error) {
	upload, err := s.uploads.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if upload.IsExpired(time.Now()) {
		s.purge(ctx, upload)
		return nil, fmt.Errorf("%w: expired", repository.ErrUploadNotFound)
	}

	if _, err := os.Stat(upload.StoredPath); err != nil {
		s.purge(ctx, upload)
		return nil, fmt.Errorf("%w: file missing", repository.ErrUploadNotFound)
	}

	return upload, nil
}

// GetByHash returns the newest unexpired upload with the given content hash.
func (s *LocalStore) GetByHash(ctx context.Context, fileHash string) (*model.Upload, error) {
	uploads, err := s.uploads.ListByHash(ctx, fileHash)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, upload := range uploads {
		if upload.IsExpired(now) {
			continue
		}
		if _, err := os.Stat(upload.StoredPath); err != nil {
			continue
		}
		return upload, nil
	}

	return nil, repository.ErrUploadNotFound
}

// Delete removes the physical file and the record.
func (s *LocalStore) Delete(ctx context.Context, fileID string) error {
	upload, err := s.uploads.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrUploadNotFound) {
			return nil
		}
		return err
	}

	s.purge(ctx, upload)
	return nil
}

// CleanupExpired removes all expired uploads and returns the count.
func (s *LocalStore) CleanupExpired(ctx context.Context) (int, error) {
	uploads, err := s.uploads.List(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	removed := 0
	for _, upload := range uploads {
		if !upload.IsExpired(now) {
			continue
		}
		s.purge(ctx, upload)
		removed++
	}

	if removed > 0 {
		s.logger.Info("expired uploads swept", slog.Int("count", removed))
	}

	return removed, nil
}

// List returns all unexpired upload records.
func (s *LocalStore) List(ctx context.Context) ([]*model.Upload, error) {
	uploads, err := s.uploads.List(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	live := uploads[:0]
	for _, upload := range uploads {
		if !upload.IsExpired(now) {
			live = append(live, upload)
		}
	}

	return live, nil
}

// Start launches the periodic TTL sweep. Calling Start more than once is a
// no-op.
func (s *LocalStore) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.sweepLoop(ctx)
	})
}

// Stop halts the sweep loop and waits for it to exit.
func (s *LocalStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}

func (s *LocalStore) sweepLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.CleanupExpired(ctx); err != nil {
				s.logger.Error("upload sweep failed", slog.String("error", err.Error()))
			}
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// purge removes the physical file and the metadata record, best effort.
func (s *LocalStore) purge(ctx context.Context, upload *model.Upload) {
	s.cleanupPhysical(upload.StoredPath)
	if err := s.uploads.Delete(ctx, upload.FileID); err != nil {
		s.logger.Warn("failed to delete upload record",
			slog.String("file_id", upload.FileID),
			slog.String("error", err.Error()),
		)
	}
}

// cleanupPhysical removes the stored file and its parent dir if empty.
func (s *LocalStore) cleanupPhysical(storedPath string) {
	if err := os.Remove(storedPath); err != nil && !os.IsNotExist(err) {
		return
	}
	// parent dir is the per-file_id dir; remove it only when empty
	_ = os.Remove(filepath.Dir(storedPath))
}

// detectFileType validates the filename extension against the client MIME
// type. Subtitle MIME types vary wildly, so they get only the extension
// check.
func detectFileType(filename, contentType string) (model.FileType, string, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	mimeType := contentType
	if mimeType == "" || mimeType == fallbackMime {
		if guessed := mime.TypeByExtension(ext); guessed != "" {
			mimeType, _, _ = strings.Cut(guessed, ";")
			mimeType = strings.TrimSpace(mimeType)
		} else {
			mimeType = fallbackMime
		}
	}

	switch {
	case videoExtensions[ext]:
		if !videoMimes[mimeType] && mimeType != fallbackMime {
			return "", "", fmt.Errorf("%w: video MIME mismatch %s", repository.ErrUnsupportedType, mimeType)
		}
		return model.FileVideo, mimeType, nil
	case audioExtensions[ext]:
		if !audioMimes[mimeType] && mimeType != fallbackMime {
			return "", "", fmt.Errorf("%w: audio MIME mismatch %s", repository.ErrUnsupportedType, mimeType)
		}
		return model.FileAudio, mimeType, nil
	case subtitleExtensions[ext]:
		return model.FileSubtitle, mimeType, nil
	default:
		return "", "", fmt.Errorf("%w: extension %q", repository.ErrUnsupportedType, ext)
	}
}

// sanitizeFilename strips any path component, replaces unsafe characters,
// drops trailing spaces and dots, and caps the stem at 200 characters while
// keeping the extension.
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	filename = unsafeFilenameChars.ReplaceAllString(filename, "_")
	filename = strings.TrimRight(filename, " .")

	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	if len(stem) > 200 {
		stem = stem[:200]
	}
	return stem + ext
}

// Compile-time verification that LocalStore implements repository.FileStorage.
var _ repository.FileStorage = (*LocalStore)(nil)
