// Package apperrors provides structured application errors with exit code mapping.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrPrecondition       = errors.New("precondition failed")
	ErrRegistration       = errors.New("registration failed")
	ErrRemote             = errors.New("remote error")
	ErrUpload             = errors.New("upload failed")
	ErrBulkDownload       = errors.New("bulk download failed")
	ErrIO                 = errors.New("io error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Op       string // Operation that failed (e.g., "archive.create")
	Path     string // Local path involved, if any
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// MissingCredentials reports that no API token is configured.
func MissingCredentials(envVar string) error {
	return &Error{
		Sentinel: ErrMissingCredentials,
		Message:  fmt.Sprintf("missing api key: set %s", envVar),
	}
}

// Precondition reports a required local file that is absent.
func Precondition(path, message string) error {
	return &Error{
		Sentinel: ErrPrecondition,
		Message:  message,
		Path:     path,
	}
}

// Registration reports a malformed run-creation response.
func Registration(message string) error {
	return &Error{
		Sentinel: ErrRegistration,
		Message:  message,
	}
}

// IO wraps a local filesystem failure.
func IO(op, path string, cause error) error {
	return &Error{
		Sentinel: ErrIO,
		Message:  fmt.Sprintf("%s %s: %v", op, path, cause),
		Op:       op,
		Path:     path,
		Cause:    cause,
	}
}

// RemoteError is returned when an authenticated call receives a status >= 300.
type RemoteError struct {
	Method string
	Path   string
	Status int
	Body   any // Decoded JSON body, or the raw text when it was not JSON
}

func (e *RemoteError) Error() string {
	if e.Body == nil {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.Path, e.Status, e.Body)
}

func (e *RemoteError) Unwrap() error {
	return ErrRemote
}

// UploadError is returned when the presigned upload does not answer 204.
type UploadError struct {
	Status int
	Body   string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed with status %d: %s", e.Status, e.Body)
}

func (e *UploadError) Unwrap() error {
	return ErrUpload
}

// Failure is a single failed transfer inside a bulk download. URL keeps the
// full address for callers; messages only ever render Location.
type Failure struct {
	URL string
	Err error
}

// Location is the URL without its query string, which carries presigned
// credentials.
func (f Failure) Location() string {
	return RedactURL(f.URL)
}

// RedactURL drops the query string and fragment of rawURL.
func RedactURL(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// BulkDownloadError aggregates every failed transfer of a bulk download.
// Failures are in completion order; successful files are not rolled back.
type BulkDownloadError struct {
	Failures []Failure
	Total    int
}

func (e *BulkDownloadError) Error() string {
	if len(e.Failures) == 0 {
		return "bulk download failed"
	}
	first := e.Failures[0]
	if len(e.Failures) == 1 {
		return fmt.Sprintf("failed to download %s: %v", first.Location(), first.Err)
	}
	return fmt.Sprintf("%d of %d downloads failed, first: %s: %v", len(e.Failures), e.Total, first.Location(), first.Err)
}

// Unwrap exposes the sentinel and the first underlying cause.
func (e *BulkDownloadError) Unwrap() []error {
	errs := []error{ErrBulkDownload}
	if len(e.Failures) > 0 && e.Failures[0].Err != nil {
		errs = append(errs, e.Failures[0].Err)
	}
	return errs
}

// URLs returns the failed URLs in completion order.
func (e *BulkDownloadError) URLs() []string {
	urls := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		urls[i] = f.URL
	}
	return urls
}

// Summary renders one line per failure.
func (e *BulkDownloadError) Summary() string {
	var b strings.Builder
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "%s: %v\n", f.Location(), f.Err)
	}
	return b.String()
}
