package apperrors

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
)

func TestMissingCredentials(t *testing.T) {
	t.Parallel()
	err := MissingCredentials("PLOOMBER_CLOUD_KEY")

	if !errors.Is(err, ErrMissingCredentials) {
		t.Error("expected error to match ErrMissingCredentials")
	}
	if !strings.Contains(err.Error(), "PLOOMBER_CLOUD_KEY") {
		t.Errorf("expected message to name the variable, got %q", err.Error())
	}
}

func TestPrecondition(t *testing.T) {
	t.Parallel()
	err := Precondition("requirements.lock.txt", "requirements.lock.txt is missing")

	if !errors.Is(err, ErrPrecondition) {
		t.Error("expected error to match ErrPrecondition")
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Path != "requirements.lock.txt" {
		t.Errorf("expected path 'requirements.lock.txt', got %q", appErr.Path)
	}
}

func TestIO(t *testing.T) {
	t.Parallel()
	err := IO("archive.create", "/ro/project.zip", os.ErrPermission)

	if !errors.Is(err, ErrIO) {
		t.Error("expected error to match ErrIO")
	}
	if !errors.Is(err, os.ErrPermission) {
		t.Error("expected cause to be reachable through errors.Is")
	}
	if err.Error() != "archive.create /ro/project.zip: permission denied" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestRemoteError(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("list runs: %w", &RemoteError{
		Method: "GET",
		Path:   "/runs",
		Status: 403,
		Body:   map[string]any{"message": "Forbidden"},
	})

	if !errors.Is(err, ErrRemote) {
		t.Error("expected errors.Is to find ErrRemote through wrapping")
	}

	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatal("expected error to be *RemoteError")
	}
	if remote.Status != 403 {
		t.Errorf("expected status 403, got %d", remote.Status)
	}
	if !strings.Contains(err.Error(), "Forbidden") {
		t.Errorf("expected body in message, got %q", err.Error())
	}
}

func TestUploadError(t *testing.T) {
	t.Parallel()
	err := &UploadError{Status: 201, Body: "<PostResponse/>"}

	if !errors.Is(err, ErrUpload) {
		t.Error("expected error to match ErrUpload")
	}
	if err.Error() != "upload failed with status 201: <PostResponse/>" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestBulkDownloadError(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection reset")
	err := &BulkDownloadError{
		Total: 5,
		Failures: []Failure{
			{URL: "https://host/a.csv", Err: cause},
			{URL: "https://host/b.csv", Err: errors.New("status 404")},
		},
	}

	if !errors.Is(err, ErrBulkDownload) {
		t.Error("expected error to match ErrBulkDownload")
	}
	if !errors.Is(err, cause) {
		t.Error("expected first cause to be reachable")
	}
	if got := err.URLs(); len(got) != 2 || got[0] != "https://host/a.csv" {
		t.Errorf("unexpected URLs: %v", got)
	}
	if !strings.Contains(err.Error(), "2 of 5") {
		t.Errorf("expected count in message, got %q", err.Error())
	}
	if strings.Count(err.Summary(), "\n") != 2 {
		t.Errorf("expected one summary line per failure, got %q", err.Summary())
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, ExitOK},
		{"missing credentials", MissingCredentials("KEY"), ExitMissingCredentials},
		{"wrapped missing credentials", fmt.Errorf("runs: %w", MissingCredentials("KEY")), ExitMissingCredentials},
		{"precondition", Precondition("f", "m"), ExitPrecondition},
		{"remote", &RemoteError{Status: 500}, ExitFailure},
		{"registration", Registration("no runid"), ExitFailure},
		{"unknown error", fmt.Errorf("unknown"), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ExitCode(tt.err); got != tt.expected {
				t.Errorf("ExitCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}
