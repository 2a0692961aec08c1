package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hszk-dev/sumcache/internal/domain/model"
)

// ManifestVersion is the bundle schema version written to new manifests.
const ManifestVersion = "v2"

// Canonical file names inside a bundle directory.
const (
	ManifestFileName = "bundle.json"
	SourceFileName   = "source.json"
	SummaryFileName  = "summary.json"
	ASRFileName      = "asr.json"
)

// ArtifactNames maps an artifact kind to its canonical file name.
var ArtifactNames = map[string]string{
	"video":    "video.mp4",
	"audio":    "audio.wav",
	"subtitle": "subtitle.vtt",
	"asr":      ASRFileName,
	"summary":  SummaryFileName,
}

// ArtifactInfo records one artifact's location and integrity data.
type ArtifactInfo struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256,omitempty"`
}

// Manifest is the bundle.json schema. Timestamps are unix seconds to match
// the rest of the wire surface.
type Manifest struct {
	Version        string                  `json:"version"`
	ProfileVersion string                  `json:"profile_version"`
	CacheKey       string                  `json:"cache_key"`
	SourceType     model.SourceType        `json:"source_type"`
	SourceRef      string                  `json:"source_ref"`
	SourceName     string                  `json:"source_name,omitempty"`
	Status         model.Status            `json:"status"`
	CreatedAt      float64                 `json:"created_at"`
	UpdatedAt      float64                 `json:"updated_at"`
	Artifacts      map[string]ArtifactInfo `json:"artifacts"`
	SummaryText    string                  `json:"summary_text,omitempty"`
	Error          string                  `json:"error,omitempty"`
}

// NewManifest creates a manifest with the current schema version and
// timestamps set to now.
func NewManifest(cacheKey string, sourceType model.SourceType, sourceRef string) *Manifest {
	now := unixNow()
	return &Manifest{
		Version:    ManifestVersion,
		CacheKey:   cacheKey,
		SourceType: sourceType,
		SourceRef:  sourceRef,
		Status:     model.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		Artifacts:  make(map[string]ArtifactInfo),
	}
}

// SourceInfo is the source.json schema: origin metadata kept alongside the
// artifacts so a bundle is self-describing.
type SourceInfo struct {
	SourceType model.SourceType `json:"source_type"`
	SourceRef  string           `json:"source_ref"`
	SourceName string           `json:"source_name,omitempty"`
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

func readManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Artifacts == nil {
		m.Artifacts = make(map[string]ArtifactInfo)
	}
	return &m, nil
}
