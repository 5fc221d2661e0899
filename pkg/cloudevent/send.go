package cloudevent

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// SignatureHeader carries the HMAC-SHA256 signature of the request body.
const SignatureHeader = "X-Signature-256"

// Sender delivers CloudEvents over HTTP in binary-header plus structured-body mode.
type Sender struct {
	client *http.Client
	key    string
}

// NewSender creates a sender. Events are signed when key is non-empty.
func NewSender(timeout time.Duration, key string) *Sender {
	return &Sender{
		client: &http.Client{Timeout: timeout},
		key:    key,
	}
}

// Send delivers a CloudEvent via HTTP POST. Any non-2xx answer is an *HTTPError.
func (s *Sender) Send(ctx context.Context, url string, event *CloudEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header = event.Headers()
	req.Header.Set("Content-Type", "application/cloudevents+json")
	if s.key != "" {
		req.Header.Set(SignatureHeader, Sign(body, s.key))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &HTTPError{StatusCode: resp.StatusCode}
}

// Sign computes the "sha256=<hex>" HMAC signature of payload.
func Sign(payload []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// IsClientError reports whether err is a 4xx answer, which is not worth retrying.
func IsClientError(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500
	}
	return false
}
