// Package run defines the records exchanged with the cloud run registry.
package run

import (
	"encoding/json"
	"slices"
	"time"
)

// MetadataEntry is the name of the synthetic archive entry holding Metadata.
const MetadataEntry = ".ploomber-cloud"

// Metadata describes a run. It is embedded verbatim in the project archive
// and never read back by the agent.
type Metadata struct {
	Force        bool    `json:"force"`
	RunID        string  `json:"runid,omitempty"` // Empty until the registry assigns one
	GitHubNumber *int    `json:"github_number"`
	GitHubOwner  *string `json:"github_owner,omitempty"`
	GitHubRepo   *string `json:"github_repo,omitempty"`
}

// Graph is the task graph produced by the external planner.
// It is submitted once per run and passed through unmodified.
type Graph = json.RawMessage

// Summary is one element of the run listing.
type Summary struct {
	RunID     string `json:"runid"`
	CreatedAt string `json:"created_at"` // ISO-8601, timezone optional
	Status    string `json:"status"`

	// CreatedAgo is rendered at listing time relative to current UTC.
	CreatedAgo string `json:"-"`
}

// timestampLayouts are tried in order; layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses an ISO-8601 timestamp as sent by the registry.
func ParseTimestamp(value string) (time.Time, error) {
	var firstErr error
	for _, layout := range timestampLayouts {
		ts, err := time.ParseInLocation(layout, value, time.UTC)
		if err == nil {
			return ts.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// Task is a unit of work within a run.
type Task struct {
	TaskID string `json:"taskid"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status"`
}

// Detail is the response of the run detail endpoint.
type Detail struct {
	Tasks []Task `json:"tasks"`
}

// Task status values reported by the remote executor.
const (
	StatusCreated   = "created"
	StatusSubmitted = "submitted"
	StatusStarted   = "started"
	StatusFinished  = "finished"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)

var terminalStatuses = []string{StatusFinished, StatusFailed, StatusAborted}

// IsTerminal reports whether a task status will not change anymore.
func IsTerminal(status string) bool {
	return slices.Contains(terminalStatuses, status)
}

// AllTerminal reports whether every task reached a terminal status.
// A run without tasks is not considered done.
func AllTerminal(tasks []Task) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, t := range tasks {
		if !IsTerminal(t.Status) {
			return false
		}
	}
	return true
}

// CountByStatus tallies tasks per status.
func CountByStatus(tasks []Task) map[string]int {
	counts := make(map[string]int)
	for _, t := range tasks {
		counts[t.Status]++
	}
	return counts
}
