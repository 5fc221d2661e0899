// Package upload ships the project archive to a presigned storage target.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"time"

	"cloudagent/internal/apperrors"
	"cloudagent/internal/console"
	"cloudagent/internal/observability"
	"cloudagent/internal/transport"
)

// PreconditionFile must exist in the project root before anything is uploaded.
const PreconditionFile = "requirements.lock.txt"

// maxResponseBody bounds how much of a rejected upload response is kept.
const maxResponseBody = 64 << 10

// CheckPrecondition verifies that the dependency lock file is present in root.
func CheckPrecondition(root string) error {
	path := filepath.Join(root, PreconditionFile)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return apperrors.Precondition(path, fmt.Sprintf("%s is missing in %s", PreconditionFile, root))
	}
	if err != nil {
		return apperrors.IO("upload.precondition", path, err)
	}
	if info.IsDir() {
		return apperrors.Precondition(path, fmt.Sprintf("%s is a directory", path))
	}
	return nil
}

// Target is a presigned POST destination.
type Target struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
}

// Config holds Uploader settings.
type Config struct {
	Root       string        // Project root holding PreconditionFile (default: ".")
	Timeout    time.Duration // Timeout of the archive POST (default: 10m)
	HTTPClient *http.Client  // Optional, overrides Timeout
	Console    *console.Printer
	Metrics    *observability.Metrics
}

// Uploader obtains presigned targets from the registry and posts archives to them.
type Uploader struct {
	root      string
	transport *transport.Client
	http      *http.Client
	console   *console.Printer
	metrics   *observability.Metrics
}

// New creates an Uploader.
func New(t *transport.Client, cfg Config) *Uploader {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}
	root := cfg.Root
	if root == "" {
		root = "."
	}
	return &Uploader{
		root:      root,
		transport: t,
		http:      client,
		console:   cfg.Console,
		metrics:   cfg.Metrics,
	}
}

// Target requests a presigned upload destination.
func (u *Uploader) Target(ctx context.Context) (*Target, error) {
	var target Target
	if err := u.transport.GetJSON(ctx, "/upload", &target); err != nil {
		return nil, fmt.Errorf("get upload target: %w", err)
	}
	if target.URL == "" {
		return nil, fmt.Errorf("get upload target: response has no url")
	}
	return &target, nil
}

// Send posts the archive as a multipart form: every target field verbatim,
// then the archive under the "file" field. Only 204 counts as success.
// The file is streamed with a precomputed Content-Length since presigned
// POST endpoints reject chunked bodies.
func (u *Uploader) Send(ctx context.Context, target *Target, archivePath string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return apperrors.IO("upload.open", archivePath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return apperrors.IO("upload.stat", archivePath, err)
	}

	head, tail, contentType, err := multipartFrame(target.Fields, filepath.Base(archivePath))
	if err != nil {
		return err
	}

	body := io.MultiReader(bytes.NewReader(head), file, bytes.NewReader(tail))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = int64(len(head)) + info.Size() + int64(len(tail))
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := u.http.Do(req)
	if err != nil {
		u.metrics.RecordUpload(ctx, 0, false, time.Since(start).Seconds())
		return fmt.Errorf("failed to upload archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		u.metrics.RecordUpload(ctx, 0, false, time.Since(start).Seconds())
		return &apperrors.UploadError{Status: resp.StatusCode, Body: string(respBody)}
	}

	u.metrics.RecordUpload(ctx, info.Size(), true, time.Since(start).Seconds())
	slog.Debug("Uploaded archive", "path", archivePath, "bytes", info.Size(), "duration", time.Since(start))
	return nil
}

// Upload checks the project precondition, fetches a target and sends the
// archive to it. Nothing is requested when the lock file is missing.
func (u *Uploader) Upload(ctx context.Context, archivePath string) error {
	if err := CheckPrecondition(u.root); err != nil {
		return err
	}
	target, err := u.Target(ctx)
	if err != nil {
		return err
	}
	if err := u.Send(ctx, target, archivePath); err != nil {
		return err
	}
	u.console.Success("Uploaded project, starting execution...")
	return nil
}

// multipartFrame renders everything of the form except the file content.
// Fields are written in key order.
func multipartFrame(fields map[string]string, filename string) (head, tail []byte, contentType string, err error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		if err := mw.WriteField(k, fields[k]); err != nil {
			return nil, nil, "", fmt.Errorf("failed to write form field %s: %w", k, err)
		}
	}
	if _, err := mw.CreateFormFile("file", filename); err != nil {
		return nil, nil, "", fmt.Errorf("failed to write file part: %w", err)
	}

	head = bytes.Clone(buf.Bytes())
	if err := mw.Close(); err != nil {
		return nil, nil, "", fmt.Errorf("failed to close form: %w", err)
	}
	tail = bytes.Clone(buf.Bytes()[len(head):])
	return head, tail, mw.FormDataContentType(), nil
}
