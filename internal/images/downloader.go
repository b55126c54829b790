// Package images copies listing photos from the marketplace CDN into a blob
// store.
package images

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
	"github.com/JakeFAU/marketplace-scraper/internal/metrics"
)

const defaultExt = ".png"

var knownExts = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// Config controls downloads.
type Config struct {
	// Prefix is prepended to every object path.
	Prefix    string
	Timeout   time.Duration
	UserAgent string
}

// Downloader fetches images over HTTP and streams them into a BlobStore.
type Downloader struct {
	client *http.Client
	blobs  marketplace.BlobStore
	cfg    Config
	logger *zap.Logger
}

// New creates a Downloader with an instrumented HTTP client.
func New(blobs marketplace.BlobStore, cfg Config, logger *zap.Logger) *Downloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return NewWithClient(client, blobs, cfg, logger)
}

// NewWithClient uses the supplied HTTP client.
func NewWithClient(client *http.Client, blobs marketplace.BlobStore, cfg Config, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{client: client, blobs: blobs, cfg: cfg, logger: logger}
}

// Download stores each URL and returns how many were stored. Failures are
// logged and skipped.
func (d *Downloader) Download(ctx context.Context, itemID int64, urls []string) int {
	stored := 0
	for n, raw := range urls {
		objectPath := ObjectPath(d.cfg.Prefix, itemID, n, raw)
		uri, err := d.fetch(ctx, raw, objectPath)
		if err != nil {
			metrics.ObserveImageDownload("failed")
			d.logger.Warn("image download failed",
				zap.Int64("item_id", itemID),
				zap.Int("index", n),
				zap.Error(err),
			)
			continue
		}
		metrics.ObserveImageDownload("stored")
		d.logger.Debug("image stored", zap.Int64("item_id", itemID), zap.String("uri", uri))
		stored++
	}
	return stored
}

func (d *Downloader) fetch(ctx context.Context, raw, objectPath string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get image: unexpected status %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = knownExts[path.Ext(objectPath)]
	}
	uri, err := d.blobs.PutObject(ctx, objectPath, contentType, resp.Body)
	if err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	return uri, nil
}

// ObjectPath names the n-th image of a listing as <prefix>/<id>/<id>_<n><ext>.
func ObjectPath(prefix string, itemID int64, n int, rawURL string) string {
	name := fmt.Sprintf("%d/%d_%d%s", itemID, itemID, n, extension(rawURL))
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func extension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultExt
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if _, ok := knownExts[ext]; ok {
		return ext
	}
	return defaultExt
}
