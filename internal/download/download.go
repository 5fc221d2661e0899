// Package download fetches many remote artifacts concurrently into a local
// tree that mirrors their URL paths.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"cloudagent/internal/apperrors"
	"cloudagent/internal/observability"
	"cloudagent/pkg/circuitbreaker"
)

// DefaultWorkers is the pool size used when Engine.Workers is unset.
const DefaultWorkers = 64

// Destination derives the local relative path of a URL: scheme, host and
// query are dropped and a single leading slash is stripped.
func Destination(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}

	rel := strings.TrimPrefix(parsed.Path, "/")
	if rel == "" || strings.HasSuffix(rel, "/") {
		return "", fmt.Errorf("url %q has no file path", redact(rawURL))
	}
	if slices.Contains(strings.Split(rel, "/"), "..") {
		return "", fmt.Errorf("url %q escapes the download root", redact(rawURL))
	}
	return rel, nil
}

// Engine downloads a batch of URLs with a fixed worker pool.
// A failed transfer never cancels the others.
type Engine struct {
	Workers    int           // Pool size (default: 64)
	Timeout    time.Duration // Per-file timeout, 0 means none
	Root       string        // Local root (default: ".")
	HTTPClient *http.Client  // Optional
	Breaker    *circuitbreaker.Hosts
	Metrics    *observability.Metrics
}

type result struct {
	url   string
	path  string
	bytes int64
	err   error
}

// DownloadAll fetches every URL and waits for all of them. Files that were
// downloaded stay in place even when others fail; failures are reported
// together as *apperrors.BulkDownloadError in completion order.
func (e *Engine) DownloadAll(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}

	workers := e.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	workers = min(workers, len(urls))
	client := e.client(workers)
	logger := slog.With("component", "download")

	jobs := make(chan string)
	results := make(chan result, len(urls))

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for u := range jobs {
				results <- e.fetch(ctx, client, u)
			}
		}()
	}

	start := time.Now()
	for _, u := range urls {
		jobs <- u
	}
	close(jobs)
	wg.Wait()
	close(results)

	var failures []apperrors.Failure
	var total int64
	for r := range results {
		if r.err != nil {
			logger.Warn("Download failed", "url", redact(r.url), "error", r.err)
			failures = append(failures, apperrors.Failure{URL: r.url, Err: r.err})
			continue
		}
		total += r.bytes
		logger.Debug("Downloaded file", "path", r.path, "bytes", r.bytes)
	}

	logger.Info("Downloads finished",
		"files", len(urls),
		"failed", len(failures),
		"bytes", total,
		"workers", workers,
		"duration", time.Since(start),
	)

	if len(failures) > 0 {
		return &apperrors.BulkDownloadError{Failures: failures, Total: len(urls)}
	}
	return nil
}

func (e *Engine) client(workers int) *http.Client {
	if e.HTTPClient != nil {
		return e.HTTPClient
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = workers
	return &http.Client{Transport: transport}
}

func (e *Engine) fetch(ctx context.Context, client *http.Client, rawURL string) result {
	res := result{url: rawURL}

	rel, err := Destination(rawURL)
	if err != nil {
		res.err = scrub(err)
		return res
	}
	root := e.Root
	if root == "" {
		root = "."
	}
	res.path = filepath.Join(root, filepath.FromSlash(rel))

	host := extractHost(rawURL)
	if e.Breaker != nil {
		if err := e.Breaker.Allow(host); err != nil {
			res.err = err
			return res
		}
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	e.Metrics.RecordDownloadStarted(ctx, host)
	start := time.Now()
	res.bytes, err = fetchToFile(ctx, client, rawURL, res.path)
	res.err = scrub(err)
	e.Metrics.RecordDownloadCompleted(ctx, host, res.bytes, res.err == nil, time.Since(start).Seconds())

	if e.Breaker != nil {
		e.Breaker.Record(host, res.err)
	}
	return res
}

// fetchToFile writes the body of rawURL to a temporary file next to dest and
// renames it into place, so dest is either complete or absent.
func fetchToFile(ctx context.Context, client *http.Client, rawURL, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	dir := filepath.Dir(dest)
	// MkdirAll tolerates a sibling worker creating the same parent
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, apperrors.IO("download.mkdir", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, apperrors.IO("download.create", dest, err)
	}
	tmpPath := tmp.Name()

	written, err := io.Copy(tmp, resp.Body)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpPath, dest)
	}
	if err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return written, nil
}

// extractHost extracts the host from a URL for breaker keying.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

// redact drops the query string, which carries presigned credentials.
func redact(rawURL string) string {
	return apperrors.RedactURL(rawURL)
}

// scrub redacts the URL that net/http and net/url embed in their errors.
func scrub(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = redact(urlErr.URL)
	}
	return err
}
