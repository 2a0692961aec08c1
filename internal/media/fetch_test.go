package media

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testFetcher(cfg FetcherConfig) *Fetcher {
	return NewFetcher(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFetcher_FetchSubtitle(t *testing.T) {
	const body = "WEBVTT\n\n00:01.000 --> 00:02.000\n你好\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, body)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "sub.vtt")
	f := testFetcher(FetcherConfig{})

	if err := f.FetchSubtitle(context.Background(), srv.URL, dest); err != nil {
		t.Fatalf("FetchSubtitle failed: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(got) != body {
		t.Errorf("downloaded content = %q", got)
	}
}

func TestFetcher_SizeCapExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("x", 100))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "sub.vtt")
	f := testFetcher(FetcherConfig{SubtitleMaxBytes: 32})

	err := f.FetchSubtitle(context.Background(), srv.URL, dest)
	if !errors.Is(err, ErrDownloadTooLarge) {
		t.Fatalf("err = %v, want ErrDownloadTooLarge", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("oversized download should be removed")
	}
}

func TestFetcher_AnnouncedSizeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		io.WriteString(w, strings.Repeat("x", 1000))
	}))
	defer srv.Close()

	f := testFetcher(FetcherConfig{SubtitleMaxBytes: 32})
	err := f.FetchSubtitle(context.Background(), srv.URL, filepath.Join(t.TempDir(), "s"))
	if !errors.Is(err, ErrDownloadTooLarge) {
		t.Fatalf("err = %v, want ErrDownloadTooLarge", err)
	}
}

func TestFetcher_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := testFetcher(FetcherConfig{})
	if err := f.FetchSubtitle(context.Background(), srv.URL, filepath.Join(t.TempDir(), "s")); err == nil {
		t.Error("expected error for 404 response")
	}
}

func TestFetcher_ThrottledDownload(t *testing.T) {
	const body = "small throttled payload"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, body)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "f.bin")
	// limit far above the payload size so the test stays fast
	f := testFetcher(FetcherConfig{RateLimitBytes: 1 << 20})

	if err := f.FetchFile(context.Background(), srv.URL, dest); err != nil {
		t.Fatalf("FetchFile failed: %v", err)
	}
	got, _ := os.ReadFile(dest)
	if string(got) != body {
		t.Errorf("downloaded content = %q", got)
	}
}
