// Package cloudevent builds and delivers CloudEvents 1.0 over HTTP.
package cloudevent

import (
	"net/http"
	"time"
)

// SpecVersion is the CloudEvents version produced by New.
const SpecVersion = "1.0"

// CloudEvent is a CloudEvents 1.0 event with a JSON object payload.
type CloudEvent struct {
	SpecVersion     string         `json:"specversion"`
	Type            string         `json:"type"`
	Source          string         `json:"source"`
	Subject         string         `json:"subject,omitempty"`
	ID              string         `json:"id"`
	Time            time.Time      `json:"time"`
	DataContentType string         `json:"datacontenttype"`
	Data            map[string]any `json:"data,omitempty"`
}

// New creates a CloudEvent stamped with the current UTC time.
func New(eventType, source, subject, id string, data map[string]any) *CloudEvent {
	return &CloudEvent{
		SpecVersion:     SpecVersion,
		Type:            eventType,
		Source:          source,
		Subject:         subject,
		ID:              id,
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}
}

// Headers returns the binary-mode Ce-* attribute headers of the event.
// Empty optional attributes are left out.
func (e *CloudEvent) Headers() http.Header {
	h := http.Header{}
	h.Set("Ce-Specversion", e.SpecVersion)
	h.Set("Ce-Type", e.Type)
	h.Set("Ce-Source", e.Source)
	h.Set("Ce-Id", e.ID)
	h.Set("Ce-Time", e.Time.Format(time.RFC3339))
	if e.Subject != "" {
		h.Set("Ce-Subject", e.Subject)
	}
	return h
}
