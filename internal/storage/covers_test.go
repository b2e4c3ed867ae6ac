package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	gobreaker "github.com/sony/gobreaker/v2"
)

func TestDownload_StoresImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG fake"))
	}))
	defer srv.Close()

	c := NewCovers(t.TempDir())
	name, err := c.Download(context.Background(), "9780306406157", srv.URL+"/covers/dune.png")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if name != "9780306406157-dune.png" {
		t.Fatalf("name = %q", name)
	}
	data, err := os.ReadFile(filepath.Join(c.Dir(), name))
	if err != nil || string(data) != "\x89PNG fake" {
		t.Fatalf("stored file = %q, %v", data, err)
	}

	f, err := c.Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.Close()
	if _, err := c.Open("../etc/passwd"); err == nil {
		t.Fatal("Open must reject paths")
	}
}

func TestDownload_RejectsNonImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	c := NewCovers(t.TempDir())
	_, err := c.Download(context.Background(), "9780306406157", srv.URL+"/x.jpg")
	if !errors.Is(err, ErrNotImage) {
		t.Fatalf("expected ErrNotImage, got %v", err)
	}
}

func TestDownload_BreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewCovers(t.TempDir())
	for i := 0; i < 5; i++ {
		if _, err := c.Download(context.Background(), "9780306406157", srv.URL+"/a.jpg"); err == nil {
			t.Fatal("expected failure")
		}
	}
	_, err := c.Download(context.Background(), "9780306406157", srv.URL+"/a.jpg")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if got := calls.Load(); got != 5 {
		t.Fatalf("upstream calls = %d, want 5", got)
	}
}

func TestCoverFileName(t *testing.T) {
	tests := []struct {
		url, contentType, want string
	}{
		{"https://img.test/a/b/front.jpg", "image/jpeg", "123-front.jpg"},
		{"https://img.test/", "image/jpeg", "cover_123.jpg"},
		{"https://img.test/we%20ird$name.jpg", "image/jpeg", "123-we_ird_name.jpg"},
	}
	for _, tt := range tests {
		if got := coverFileName("123", tt.url, tt.contentType); got != tt.want {
			t.Errorf("coverFileName(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
