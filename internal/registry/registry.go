// Package registry talks to the cloud run registry: run records, task
// graphs, per-task status and produced artifacts.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"cloudagent/internal/apperrors"
	"cloudagent/internal/console"
	"cloudagent/internal/run"
	"cloudagent/internal/transport"
	"cloudagent/pkg/backoff"

	"github.com/dustin/go-humanize"
)

// Client is the run registry client. All calls except UpdateTaskStatus
// require credentials.
type Client struct {
	transport *transport.Client
	console   *console.Printer
	poll      backoff.Config
	maxEmpty  int
	now       func() time.Time
	logger    *slog.Logger
}

// DefaultEmptyPollLimit is the number of task-less polls Watch accepts.
const DefaultEmptyPollLimit = 10

// ErrNoTasks is returned by Watch when a run keeps reporting no tasks.
var ErrNoTasks = errors.New("run has no tasks")

// Option configures a Client.
type Option func(*Client)

// WithConsole sets the printer used for human-facing status lines.
func WithConsole(p *console.Printer) Option {
	return func(c *Client) { c.console = p }
}

// WithPollBackoff sets the interval schedule used by Watch.
func WithPollBackoff(cfg backoff.Config) Option {
	return func(c *Client) { c.poll = cfg }
}

// WithEmptyPollLimit sets how many consecutive polls without any task Watch
// tolerates before giving up.
func WithEmptyPollLimit(n int) Option {
	return func(c *Client) { c.maxEmpty = n }
}

// WithClock overrides the clock used to render relative timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a registry client on top of t.
func New(t *transport.Client, opts ...Option) *Client {
	c := &Client{
		transport: t,
		poll:      backoff.Config{Initial: 2 * time.Second, Max: 30 * time.Second},
		maxEmpty:  DefaultEmptyPollLimit,
		now:       time.Now,
		logger:    slog.With("component", "registry"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createRunResponse struct {
	RunID string `json:"runid"`
}

// CreateRun registers a new run and returns its id.
func (c *Client) CreateRun(ctx context.Context, meta run.Metadata) (string, error) {
	var resp createRunResponse
	if err := c.transport.Do(ctx, http.MethodPost, "/runs", meta, &resp); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	if resp.RunID == "" {
		return "", apperrors.Registration("create run: response has no runid")
	}
	c.logger.Info("Run created", "runId", resp.RunID)
	return resp.RunID, nil
}

// UpdateRun submits the task graph of a run and returns the raw response.
func (c *Client) UpdateRun(ctx context.Context, runID string, graph run.Graph) (json.RawMessage, error) {
	var resp json.RawMessage
	if err := c.transport.Do(ctx, http.MethodPut, "/runs/"+url.PathEscape(runID), graph, &resp); err != nil {
		return nil, fmt.Errorf("update run %s: %w", runID, err)
	}
	return resp, nil
}

// ListRuns returns the run summaries with CreatedAgo rendered against the current UTC time.
// Summaries with an unparseable timestamp keep an empty CreatedAgo.
func (c *Client) ListRuns(ctx context.Context) ([]run.Summary, error) {
	var runs []run.Summary
	if err := c.transport.GetJSON(ctx, "/runs", &runs); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	now := c.now().UTC()
	for i := range runs {
		created, err := run.ParseTimestamp(runs[i].CreatedAt)
		if err != nil {
			c.logger.Warn("Unparseable run timestamp", "runId", runs[i].RunID, "createdAt", runs[i].CreatedAt)
			continue
		}
		runs[i].CreatedAgo = humanize.RelTime(created, now, "ago", "from now")
	}
	return runs, nil
}

// UpdateTaskStatus sets the status of a task. The endpoint is unauthenticated.
// Non-2xx responses are not errors: both outcomes print a console line and
// return the decoded body. Only transport failures are returned.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID, status string) (any, error) {
	path := "/tasks/" + url.PathEscape(taskID) + "/" + url.PathEscape(status)
	code, body, err := c.transport.DoPublic(ctx, http.MethodGet, path)
	if err != nil {
		return nil, fmt.Errorf("update task %s: %w", taskID, err)
	}

	if code >= 200 && code < 300 {
		c.console.Success("Task %s status updated to %s (%d): %v", taskID, status, code, body)
	} else {
		c.console.Error("Failed to update task %s to %s (%d): %v", taskID, status, code, body)
		c.logger.Warn("Task status update rejected", "taskId", taskID, "status", status, "code", code)
	}
	return body, nil
}

// RunDetail returns the tasks of a run.
func (c *Client) RunDetail(ctx context.Context, runID string) ([]run.Task, error) {
	var detail run.Detail
	if err := c.transport.GetJSON(ctx, "/runs/"+url.PathEscape(runID), &detail); err != nil {
		return nil, fmt.Errorf("run detail %s: %w", runID, err)
	}
	return detail.Tasks, nil
}

// ListProducts returns the paths of all produced artifacts. An empty list is valid.
func (c *Client) ListProducts(ctx context.Context) ([]string, error) {
	products := []string{}
	if err := c.transport.GetJSON(ctx, "/products", &products); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// ProductURLs returns presigned download URLs for the products matching pattern.
func (c *Client) ProductURLs(ctx context.Context, pattern string) ([]string, error) {
	urls := []string{}
	if err := c.transport.GetJSON(ctx, "/products/"+url.PathEscape(pattern), &urls); err != nil {
		return nil, fmt.Errorf("product urls %q: %w", pattern, err)
	}
	return urls, nil
}

// Watch polls the run detail until every task is terminal, calling onUpdate
// (when non-nil) after each poll. A failed poll ends the watch, and so does a
// run that reports no tasks for more than the empty poll limit.
func (c *Client) Watch(ctx context.Context, runID string, onUpdate func([]run.Task)) ([]run.Task, error) {
	empty := 0
	for attempt := 1; ; attempt++ {
		tasks, err := c.RunDetail(ctx, runID)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(tasks)
		}
		if run.AllTerminal(tasks) {
			return tasks, nil
		}

		if len(tasks) == 0 {
			empty++
			if empty == 1 {
				c.console.Notice("Run %s has no tasks yet", runID)
			}
			if c.maxEmpty > 0 && empty >= c.maxEmpty {
				return tasks, fmt.Errorf("watch %s: %w after %d polls", runID, ErrNoTasks, empty)
			}
		} else {
			empty = 0
		}

		wait := backoff.Exponential(attempt, &c.poll)
		c.logger.Debug("Run still in progress", "runId", runID, "tasks", run.CountByStatus(tasks), "nextPoll", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return tasks, ctx.Err()
		case <-timer.C:
		}
	}
}
