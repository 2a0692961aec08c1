// Package bundle owns the content-addressed artifact directories: their
// layout, manifests, and the tmp-then-rename publication protocol.
package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/renameio/v2"

	"github.com/hszk-dev/sumcache/internal/cachekey"
	"github.com/hszk-dev/sumcache/internal/domain/model"
)

// Manager lays out bundles as cache_root/<source_type>/<cache_key>/ with
// in-progress work under tmp_root/<job_id>/. Both roots must live on the
// same filesystem so FinalizeFromTmp can rely on an atomic rename.
type Manager struct {
	cacheRoot string
	tmpRoot   string
}

// NewManager creates a bundle manager over the given roots.
func NewManager(cacheRoot, tmpRoot string) *Manager {
	return &Manager{cacheRoot: cacheRoot, tmpRoot: tmpRoot}
}

// BundleDir returns the final directory for a cache key.
func (m *Manager) BundleDir(sourceType model.SourceType, cacheKey string) string {
	return filepath.Join(m.cacheRoot, sourceType.String(), cacheKey)
}

// TmpDir returns the working directory for a job.
func (m *Manager) TmpDir(jobID string) string {
	return filepath.Join(m.tmpRoot, jobID)
}

// CreateTmpDir ensures and returns the working directory for a job.
func (m *Manager) CreateTmpDir(jobID string) (string, error) {
	dir := m.TmpDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create tmp dir: %w", err)
	}
	return dir, nil
}

// CleanupTmp removes a job's working directory and everything under it.
func (m *Manager) CleanupTmp(jobID string) error {
	return os.RemoveAll(m.TmpDir(jobID))
}

// WriteManifest writes bundle.json into targetDir (the final bundle dir
// when targetDir is empty) via write-to-sibling, fsync, rename. The
// manifest's updated_at is refreshed.
func (m *Manager) WriteManifest(cacheKey string, sourceType model.SourceType, manifest *Manifest, targetDir string) error {
	if targetDir == "" {
		targetDir = m.BundleDir(sourceType, cacheKey)
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("failed to create bundle dir: %w", err)
	}

	manifest.UpdatedAt = unixNow()

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	path := filepath.Join(targetDir, ManifestFileName)
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest reads bundle.json from the final bundle directory.
// Returns fs.ErrNotExist when the bundle has no manifest.
func (m *Manager) ReadManifest(cacheKey string, sourceType model.SourceType) (*Manifest, error) {
	return readManifestFile(filepath.Join(m.BundleDir(sourceType, cacheKey), ManifestFileName))
}

// ReadManifestDir reads bundle.json from an arbitrary directory, typically
// a tmp working dir that has not been finalized yet.
func (m *Manager) ReadManifestDir(dir string) (*Manifest, error) {
	return readManifestFile(filepath.Join(dir, ManifestFileName))
}

// WriteSource writes source.json into targetDir atomically.
func (m *Manager) WriteSource(targetDir string, info SourceInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode source info: %w", err)
	}
	path := filepath.Join(targetDir, SourceFileName)
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write source info: %w", err)
	}
	return nil
}

// AddArtifact copies sourcePath into the bundle under the canonical name
// for kind, records size (and SHA-256 when computeHash is set) in the
// manifest, and rewrites the manifest.
func (m *Manager) AddArtifact(cacheKey string, sourceType model.SourceType, kind, sourcePath string, computeHash bool) error {
	name, ok := ArtifactNames[kind]
	if !ok {
		return fmt.Errorf("unknown artifact kind %q", kind)
	}

	dir := m.BundleDir(sourceType, cacheKey)
	manifest, err := m.ReadManifest(cacheKey, sourceType)
	if err != nil {
		return err
	}

	destPath := filepath.Join(dir, name)
	size, err := copyFile(sourcePath, destPath)
	if err != nil {
		return fmt.Errorf("failed to copy artifact: %w", err)
	}

	info := ArtifactInfo{Path: name, Size: size}
	if computeHash {
		hash, err := cachekey.HashFile(destPath)
		if err != nil {
			return err
		}
		info.SHA256 = hash
	}
	manifest.Artifacts[kind] = info

	return m.WriteManifest(cacheKey, sourceType, manifest, dir)
}

// FinalizeFromTmp publishes a finished bundle: any existing directory at
// the final path is removed, then the tmp dir is renamed into place. This
// is the only admissible publication path; partial writes under the final
// location are a bug.
func (m *Manager) FinalizeFromTmp(jobID, cacheKey string, sourceType model.SourceType) error {
	tmpDir := m.TmpDir(jobID)
	if _, err := os.Stat(tmpDir); err != nil {
		return fmt.Errorf("tmp dir missing: %w", err)
	}

	finalDir := m.BundleDir(sourceType, cacheKey)
	if err := os.MkdirAll(filepath.Dir(finalDir), 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	if err := os.RemoveAll(finalDir); err != nil {
		return fmt.Errorf("failed to remove existing bundle: %w", err)
	}
	if err := os.Rename(tmpDir, finalDir); err != nil {
		return fmt.Errorf("failed to promote bundle: %w", err)
	}
	return nil
}

// DeleteBundle removes a bundle directory recursively.
func (m *Manager) DeleteBundle(cacheKey string, sourceType model.SourceType) error {
	return os.RemoveAll(m.BundleDir(sourceType, cacheKey))
}

// BundleSize returns the total size in bytes of everything under the
// bundle directory. A missing bundle has size zero.
func (m *Manager) BundleSize(cacheKey string, sourceType model.SourceType) (int64, error) {
	var total int64
	err := filepath.WalkDir(m.BundleDir(sourceType, cacheKey), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to size bundle: %w", err)
	}
	return total, nil
}

// ListBundles iterates bundle directories and reads their manifests.
// sourceType narrows the scan; empty means both url and local.
func (m *Manager) ListBundles(sourceType model.SourceType) ([]*Manifest, error) {
	sourceTypes := []model.SourceType{model.SourceURL, model.SourceLocal}
	if sourceType != "" {
		sourceTypes = []model.SourceType{sourceType}
	}

	var manifests []*Manifest
	for _, st := range sourceTypes {
		root := filepath.Join(m.cacheRoot, st.String())
		entries, err := os.ReadDir(root)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to list bundles: %w", err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			manifest, err := m.ReadManifest(entry.Name(), st)
			if err != nil {
				continue
			}
			manifests = append(manifests, manifest)
		}
	}
	return manifests, nil
}

// FindArtifact locates an artifact file in dir by kind: the canonical name
// when present, otherwise the first file matching "<kind>.*" in sorted
// order. Returns empty when nothing matches.
func FindArtifact(dir, kind string) string {
	if name, ok := ArtifactNames[kind]; ok {
		preferred := filepath.Join(dir, name)
		if _, err := os.Stat(preferred); err == nil {
			return preferred
		}
	}

	matches, err := filepath.Glob(filepath.Join(dir, kind+".*"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[0]
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return 0, err
	}
	return n, out.Sync()
}
