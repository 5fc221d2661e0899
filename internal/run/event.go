package run

import (
	"cloudagent/pkg/cloudevent"

	"github.com/google/uuid"
)

// Event types for agent lifecycle notifications.
const (
	EventTypeCreated    = "cloud.run.created"
	EventTypeUploaded   = "cloud.run.uploaded"
	EventTypeDownloaded = "cloud.products.downloaded"
)

// EventBuilder builds CloudEvents for run lifecycle notifications.
type EventBuilder struct {
	source string
}

// NewEventBuilder creates a new EventBuilder.
func NewEventBuilder(source string) *EventBuilder {
	return &EventBuilder{source: source}
}

// Build creates a new CloudEvent with the given type, subject and data.
func (b *EventBuilder) Build(eventType, subject string, data map[string]any) *cloudevent.CloudEvent {
	return cloudevent.New(eventType, b.source, subject, uuid.NewString(), data)
}

// BuildCreatedEvent creates a run registration event.
func (b *EventBuilder) BuildCreatedEvent(meta Metadata) *cloudevent.CloudEvent {
	data := map[string]any{
		"runId": meta.RunID,
		"force": meta.Force,
	}
	if meta.GitHubNumber != nil {
		data["githubNumber"] = *meta.GitHubNumber
	}
	return b.Build(EventTypeCreated, meta.RunID, data)
}

// BuildUploadedEvent creates an archive uploaded event.
func (b *EventBuilder) BuildUploadedEvent(runID string, archiveBytes int64) *cloudevent.CloudEvent {
	data := map[string]any{
		"runId": runID,
		"bytes": archiveBytes,
	}
	return b.Build(EventTypeUploaded, runID, data)
}

// BuildDownloadedEvent creates a products downloaded event.
func (b *EventBuilder) BuildDownloadedEvent(pattern string, total int, err error) *cloudevent.CloudEvent {
	data := map[string]any{
		"pattern": pattern,
		"total":   total,
		"status":  "success",
	}
	if err != nil {
		data["status"] = "failed"
		data["error"] = err.Error()
	}
	return b.Build(EventTypeDownloaded, pattern, data)
}
