// Package storage keeps downloaded cover images on local disk.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pysugar/shelflife/internal/logging"
	"github.com/pysugar/shelflife/internal/metrics"
	"github.com/pysugar/shelflife/internal/version"
	gobreaker "github.com/sony/gobreaker/v2"
)

const maxCoverBytes = 10 << 20

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ErrNotImage is returned when a cover URL serves something other than an image.
var ErrNotImage = errors.New("cover url did not return an image")

// Covers downloads cover art through a circuit breaker so a dead image host
// does not stall every enrichment.
type Covers struct {
	dir        string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[string]
}

type CoversOption func(*Covers)

func WithCoverHTTPClient(hc *http.Client) CoversOption {
	return func(c *Covers) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewCovers(dir string, opts ...CoversOption) *Covers {
	c := &Covers{
		dir:        dir,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cb = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "cover-downloads",
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// A non-image response says nothing about the host's health.
			return err == nil || errors.Is(err, ErrNotImage)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("[CIRCUIT BREAKER] State transition")
		},
	})
	return c
}

// Dir is the root directory covers are written under.
func (c *Covers) Dir() string { return c.dir }

// Download fetches coverURL and stores it for gtin, returning the stored
// name relative to Dir.
func (c *Covers) Download(ctx context.Context, gtin, coverURL string) (string, error) {
	name, err := c.cb.Execute(func() (string, error) {
		return c.download(ctx, gtin, coverURL)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CoverDownloads.WithLabelValues("breaker_open").Inc()
		return "", fmt.Errorf("cover downloads paused: %w", err)
	case err != nil:
		metrics.CoverDownloads.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.CoverDownloads.WithLabelValues("ok").Inc()
	return name, nil
}

func (c *Covers) download(ctx context.Context, gtin, coverURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, coverURL, nil)
	if err != nil {
		return "", fmt.Errorf("build cover request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "image/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download cover: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download cover: HTTP %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if mediaType, _, _ := mime.ParseMediaType(contentType); !strings.HasPrefix(mediaType, "image/") {
		return "", fmt.Errorf("%w (content type %q)", ErrNotImage, contentType)
	}

	name := coverFileName(gtin, coverURL, contentType)
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("create cover dir: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, ".cover-*")
	if err != nil {
		return "", fmt.Errorf("create cover file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, maxCoverBytes+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("write cover: %w", err)
	}
	if n > maxCoverBytes {
		return "", fmt.Errorf("cover exceeds %d bytes", maxCoverBytes)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(c.dir, name)); err != nil {
		return "", fmt.Errorf("store cover: %w", err)
	}
	logging.Info().Str("gtin", gtin).Str("file", name).Int64("bytes", n).Msg("Stored cover image")
	return name, nil
}

// Open returns a stored cover for reading.
func (c *Covers) Open(name string) (*os.File, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, os.ErrNotExist
	}
	return os.Open(filepath.Join(c.dir, name))
}

// coverFileName derives "<gtin>-<basename>" from the URL, falling back to
// cover_<gtin> with an extension matching the content type.
func coverFileName(gtin, coverURL, contentType string) string {
	base := ""
	if u, err := url.Parse(coverURL); err == nil {
		base = path.Base(u.Path)
	}
	base = unsafeName.ReplaceAllString(base, "_")
	if base == "" || base == "." || base == "/" || base == "_" || strings.HasPrefix(base, ".") {
		ext := ".jpg"
		if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 && contentType != "image/jpeg" {
			ext = exts[0]
		}
		return "cover_" + gtin + ext
	}
	return gtin + "-" + base
}
