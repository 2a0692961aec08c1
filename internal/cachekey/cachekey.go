// Package cachekey derives stable content-addressed keys so that equal
// submissions resolve to the same bundle.
package cachekey

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/hszk-dev/sumcache/internal/domain/model"
	"github.com/hszk-dev/sumcache/internal/domain/repository"
)

// hashChunkSize is the read size for streamed file hashing.
const hashChunkSize = 8 * 1024 * 1024

// Identity is an extractor-provided pair identifying a piece of content
// independently of its URL form.
type Identity struct {
	Extractor string
	ContentID string
}

// IdentityExtractor resolves a URL to a media identity. Returning an error
// is a normal outcome (unknown site, network trouble) and never fails key
// computation.
type IdentityExtractor interface {
	Extract(ctx context.Context, rawURL string) (*Identity, error)
}

// Service computes cache keys from heterogeneous sources.
type Service struct {
	extractor IdentityExtractor
	logger    *slog.Logger
}

// NewService creates a key service. extractor may be nil, in which case URL
// keys always fall back to the normalized URL.
func NewService(extractor IdentityExtractor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{extractor: extractor, logger: logger}
}

// NormalizeURL canonicalizes a URL: https scheme, lowercase scheme and
// host, sorted query parameters with blank values kept, no fragment, and
// no trailing slash except for the root path.
func NormalizeURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "http" {
		scheme = "https"
	}

	host := strings.ToLower(parsed.Host)

	query := sortedQuery(parsed.RawQuery)

	path := parsed.Path
	if path != "/" {
		path = strings.TrimRight(path, "/")
	}

	normalized := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     path,
		RawQuery: query,
	}
	return normalized.String()
}

// sortedQuery re-encodes a query string with parameters sorted by key then
// value, preserving blank values.
func sortedQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	type pair struct{ key, value string }
	var pairs []pair
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		decodedKey, err := url.QueryUnescape(key)
		if err != nil {
			decodedKey = key
		}
		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			decodedValue = value
		}
		pairs = append(pairs, pair{decodedKey, decodedValue})
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	var sb strings.Builder
	for i, p := range pairs {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(p.key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(p.value))
	}
	return sb.String()
}

// URLKey computes the cache key for a URL source. Extractor identity wins
// when available; otherwise the normalized URL is used.
func (s *Service) URLKey(ctx context.Context, rawURL string) string {
	var source string
	if identity := s.extractIdentity(ctx, rawURL); identity != nil {
		source = fmt.Sprintf("ytdlp:%s:%s", strings.ToLower(identity.Extractor), identity.ContentID)
	} else {
		source = "url:" + NormalizeURL(rawURL)
	}
	return hashString(source)
}

func (s *Service) extractIdentity(ctx context.Context, rawURL string) *Identity {
	if s.extractor == nil {
		return nil
	}
	identity, err := s.extractor.Extract(ctx, rawURL)
	if err != nil {
		s.logger.Debug("identity extraction failed", "url", rawURL, "error", err)
		return nil
	}
	if identity == nil || identity.Extractor == "" || identity.ContentID == "" {
		return nil
	}
	return identity
}

// LocalKey computes the cache key for a local file given its content hash.
func LocalKey(fileHash string) string {
	return hashString("file:" + fileHash)
}

// SourceRefInput carries the fields needed to derive a source reference.
type SourceRefInput struct {
	SourceType model.SourceType
	SourceURL  string
	FileHash   string
}

// SourceRef returns the canonical source reference persisted alongside the
// entry: the normalized URL for url sources, the content hash for local
// ones.
func SourceRef(in SourceRefInput) (string, error) {
	switch in.SourceType {
	case model.SourceURL:
		if in.SourceURL == "" {
			return "", fmt.Errorf("%w: url source requires source_url", repository.ErrInvalidSource)
		}
		return NormalizeURL(in.SourceURL), nil
	case model.SourceLocal:
		if in.FileHash == "" {
			return "", fmt.Errorf("%w: local source requires file_hash", repository.ErrInvalidSource)
		}
		return in.FileHash, nil
	default:
		return "", fmt.Errorf("%w: unsupported source_type %q", repository.ErrInvalidSource, in.SourceType)
	}
}

// Key computes the cache key for any admissible source.
func (s *Service) Key(ctx context.Context, in SourceRefInput) (string, error) {
	switch in.SourceType {
	case model.SourceURL:
		if in.SourceURL == "" {
			return "", fmt.Errorf("%w: url source requires source_url", repository.ErrInvalidSource)
		}
		return s.URLKey(ctx, in.SourceURL), nil
	case model.SourceLocal:
		if in.FileHash == "" {
			return "", fmt.Errorf("%w: local source requires file_hash", repository.ErrInvalidSource)
		}
		return LocalKey(in.FileHash), nil
	default:
		return "", fmt.Errorf("%w: unsupported source_type %q", repository.ErrInvalidSource, in.SourceType)
	}
}

// HashFile computes the SHA-256 of a file's contents in fixed-size chunks.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(hasher, f, buf); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
