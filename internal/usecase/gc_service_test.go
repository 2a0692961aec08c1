package usecase

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/hszk-dev/sumcache/internal/bundle"
	"github.com/hszk-dev/sumcache/internal/cachekey"
	"github.com/hszk-dev/sumcache/internal/config"
	"github.com/hszk-dev/sumcache/internal/domain/model"
	"github.com/hszk-dev/sumcache/internal/domain/repository"
)

// gcFixture wires a GC service over an in-memory entry table and real
// bundle directories.
type gcFixture struct {
	svc     *GCService
	bundles *bundle.Manager
	table   map[string]*model.CacheEntry
}

func newGCFixture(t *testing.T, cfg config.GCConfig) *gcFixture {
	t.Helper()
	root := t.TempDir()
	bundles := bundle.NewManager(filepath.Join(root, "cache"), filepath.Join(root, "tmp"))
	table := map[string]*model.CacheEntry{}

	entries := &mockEntryRepository{
		getByKeyFn: func(_ context.Context, key string) (*model.CacheEntry, error) {
			entry, ok := table[key]
			if !ok {
				return nil, repository.ErrEntryNotFound
			}
			return entry, nil
		},
		deleteFn: func(_ context.Context, key string) error {
			delete(table, key)
			return nil
		},
		listFn: func(_ context.Context, filter repository.EntryFilter) ([]*model.CacheEntry, error) {
			var out []*model.CacheEntry
			for _, entry := range table {
				if filter.Status != "" && entry.Status != filter.Status {
					continue
				}
				out = append(out, entry)
			}
			return out, nil
		},
		listIdleFn: func(_ context.Context) ([]*model.CacheEntry, error) {
			out := make([]*model.CacheEntry, 0, len(table))
			for _, entry := range table {
				out = append(out, entry)
			}
			sort.Slice(out, func(i, j int) bool {
				return out[i].IdleSince().Before(out[j].IdleSince())
			})
			return out, nil
		},
	}

	keys := cachekey.NewService(nil, discardLogger())
	cacheSvc := NewCacheService(entries, &mockJobRepository{}, keys, bundles, testProfileVersion, discardLogger())
	svc := NewGCService(entries, bundles, cacheSvc, cfg, discardLogger())
	return &gcFixture{svc: svc, bundles: bundles, table: table}
}

// addEntry registers an entry and writes a bundle payload of size bytes.
func (f *gcFixture) addEntry(t *testing.T, key string, status model.Status, idle time.Time, size int) {
	t.Helper()
	entry := &model.CacheEntry{
		CacheKey:       key,
		SourceType:     model.SourceURL,
		Status:         status,
		ProfileVersion: testProfileVersion,
		CreatedAt:      idle,
		UpdatedAt:      idle,
		LastAccessed:   &idle,
	}
	f.table[key] = entry

	dir := f.bundles.BundleDir(model.SourceURL, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir bundle: %v", err)
	}
	payload := bytes.Repeat([]byte("x"), size)
	if err := os.WriteFile(filepath.Join(dir, "audio.wav"), payload, 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}
}

func gcConfig(maxBytes int64) config.GCConfig {
	return config.GCConfig{
		CacheMaxBytes:     maxBytes,
		CacheTTLDays:      30,
		FailedTTLHours:    24,
		GCIntervalSeconds: 3600,
	}
}

func TestGC_SizePressureEvictsLRU(t *testing.T) {
	f := newGCFixture(t, gcConfig(2000))
	now := time.Now()

	f.addEntry(t, "oldest", model.StatusCompleted, now.Add(-3*time.Hour), 1000)
	f.addEntry(t, "middle", model.StatusCompleted, now.Add(-2*time.Hour), 1000)
	f.addEntry(t, "newest", model.StatusCompleted, now.Add(-1*time.Hour), 1000)

	stats, err := f.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if stats.CleanedBySize != 1 {
		t.Errorf("cleaned_by_size = %d, want 1", stats.CleanedBySize)
	}
	if _, ok := f.table["oldest"]; ok {
		t.Error("least recently used entry should be evicted first")
	}
	if _, ok := f.table["middle"]; !ok {
		t.Error("middle entry should survive")
	}
	if _, ok := f.table["newest"]; !ok {
		t.Error("most recently used entry should survive")
	}

	usage, err := f.svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if usage.TotalBytes > 2000 {
		t.Errorf("total bytes after GC = %d, want <= budget", usage.TotalBytes)
	}
}

func TestGC_SizePressureSkipsInFlight(t *testing.T) {
	f := newGCFixture(t, gcConfig(1000))
	now := time.Now()

	f.addEntry(t, "running-old", model.StatusRunning, now.Add(-3*time.Hour), 1000)
	f.addEntry(t, "done-new", model.StatusCompleted, now.Add(-1*time.Hour), 1000)

	if _, err := f.svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if _, ok := f.table["running-old"]; !ok {
		t.Error("running entries are never collected, regardless of age")
	}
	if _, ok := f.table["done-new"]; ok {
		t.Error("completed entry should be evicted to relieve the budget")
	}
}

func TestGC_FailedFastSweep(t *testing.T) {
	f := newGCFixture(t, gcConfig(0))
	now := time.Now()

	f.addEntry(t, "stale-failed", model.StatusFailed, now.Add(-48*time.Hour), 10)
	f.addEntry(t, "fresh-failed", model.StatusFailed, now.Add(-1*time.Hour), 10)

	stats, err := f.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if stats.CleanedFailed != 1 {
		t.Errorf("cleaned_failed = %d, want 1", stats.CleanedFailed)
	}
	if _, ok := f.table["stale-failed"]; ok {
		t.Error("failed entry past the failed TTL should be swept")
	}
	if _, ok := f.table["fresh-failed"]; !ok {
		t.Error("recently failed entry should be kept for inspection")
	}
}

func TestGC_TTLSweep(t *testing.T) {
	f := newGCFixture(t, gcConfig(0))
	now := time.Now()

	f.addEntry(t, "ancient", model.StatusCompleted, now.Add(-40*24*time.Hour), 10)
	f.addEntry(t, "ancient-running", model.StatusRunning, now.Add(-40*24*time.Hour), 10)
	f.addEntry(t, "recent", model.StatusCompleted, now.Add(-time.Hour), 10)

	stats, err := f.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if stats.CleanedByTTL != 1 {
		t.Errorf("cleaned_by_ttl = %d, want 1", stats.CleanedByTTL)
	}
	if _, ok := f.table["ancient"]; ok {
		t.Error("entry past the cache TTL should be swept")
	}
	if _, ok := f.table["ancient-running"]; !ok {
		t.Error("running entry is exempt from the TTL sweep")
	}
	if _, ok := f.table["recent"]; !ok {
		t.Error("recent entry should survive the TTL sweep")
	}
}

func TestGC_StatsCountsByStatus(t *testing.T) {
	f := newGCFixture(t, gcConfig(4000))
	now := time.Now()

	f.addEntry(t, "a", model.StatusCompleted, now, 100)
	f.addEntry(t, "b", model.StatusCompleted, now, 100)
	f.addEntry(t, "c", model.StatusFailed, now, 100)

	usage, err := f.svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if usage.EntryCounts[model.StatusCompleted.String()] != 2 {
		t.Errorf("completed count = %d, want 2", usage.EntryCounts[model.StatusCompleted.String()])
	}
	if usage.EntryCounts[model.StatusFailed.String()] != 1 {
		t.Errorf("failed count = %d, want 1", usage.EntryCounts[model.StatusFailed.String()])
	}
	if usage.TotalBytes != 300 {
		t.Errorf("total bytes = %d, want 300", usage.TotalBytes)
	}
	if usage.UsagePercent <= 0 {
		t.Error("usage percent should be positive")
	}
}
