package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cloudagent/internal/apperrors"
	"cloudagent/internal/console"
	"cloudagent/internal/run"
	"cloudagent/internal/transport"
	"cloudagent/pkg/backoff"
)

func newTestClient(t *testing.T, token string, handler http.HandlerFunc, opts ...Option) (*Client, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	tr := transport.New(transport.Config{BaseURL: server.URL, Token: token, Timeout: 5 * time.Second})
	opts = append([]Option{WithConsole(console.Discard())}, opts...)
	return New(tr, opts...), &calls
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestCreateRun(t *testing.T) {
	t.Parallel()
	var got map[string]any
	client, _ := newTestClient(t, "token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/runs" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, map[string]any{"runid": "run-1", "extra": true})
	})

	runID, err := client.CreateRun(context.Background(), run.Metadata{Force: true})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if runID != "run-1" {
		t.Errorf("Expected runid 'run-1', got %q", runID)
	}
	if got["force"] != true {
		t.Errorf("Expected force=true in request body, got %v", got)
	}
	if v, ok := got["github_number"]; !ok || v != nil {
		t.Errorf("Expected github_number to be sent as null, got %v", got)
	}
	if _, ok := got["runid"]; ok {
		t.Errorf("Expected no runid in creation request, got %v", got)
	}
}

func TestCreateRun_MissingRunID(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t, "token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	_, err := client.CreateRun(context.Background(), run.Metadata{})
	if !errors.Is(err, apperrors.ErrRegistration) {
		t.Errorf("Expected ErrRegistration, got %v", err)
	}
}

func TestCredentialGate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		call func(*Client) error
	}{
		{"CreateRun", func(c *Client) error {
			_, err := c.CreateRun(context.Background(), run.Metadata{})
			return err
		}},
		{"UpdateRun", func(c *Client) error {
			_, err := c.UpdateRun(context.Background(), "r1", run.Graph(`[]`))
			return err
		}},
		{"ListRuns", func(c *Client) error {
			_, err := c.ListRuns(context.Background())
			return err
		}},
		{"RunDetail", func(c *Client) error {
			_, err := c.RunDetail(context.Background(), "r1")
			return err
		}},
		{"ListProducts", func(c *Client) error {
			_, err := c.ListProducts(context.Background())
			return err
		}},
		{"ProductURLs", func(c *Client) error {
			_, err := c.ProductURLs(context.Background(), "*.csv")
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client, calls := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{})
			})

			err := tt.call(client)
			if !errors.Is(err, apperrors.ErrMissingCredentials) {
				t.Errorf("Expected ErrMissingCredentials, got %v", err)
			}
			if calls.Load() != 0 {
				t.Errorf("Expected zero network calls, got %d", calls.Load())
			}
		})
	}
}

func TestUpdateRun(t *testing.T) {
	t.Parallel()
	var body []byte
	client, _ := newTestClient(t, "token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/runs/run-1" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ = io.ReadAll(r.Body)
		writeJSON(w, http.StatusOK, map[string]any{"accepted": 2})
	})

	graph := run.Graph(`[{"name":"load"},{"name":"fit","upstream":["load"]}]`)
	resp, err := client.UpdateRun(context.Background(), "run-1", graph)
	if err != nil {
		t.Fatalf("UpdateRun() error = %v", err)
	}
	if !bytes.Equal(bytes.TrimSpace(body), graph) {
		t.Errorf("Expected graph to be sent unmodified, got %s", body)
	}
	if !strings.Contains(string(resp), `"accepted":2`) {
		t.Errorf("Unexpected response %s", resp)
	}
}

func TestUpdateTaskStatus_NeverRaises(t *testing.T) {
	t.Parallel()
	for _, status := range []int{200, 201, 400, 403, 404, 500, 503, 599} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			var gotAuth string
			client, _ := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				if r.URL.Path != "/tasks/task-7/finished" {
					t.Errorf("Unexpected path %s", r.URL.Path)
				}
				writeJSON(w, status, map[string]any{"code": status})
			}, WithConsole(console.New(&out)))

			body, err := client.UpdateTaskStatus(context.Background(), "task-7", run.StatusFinished)
			if err != nil {
				t.Fatalf("UpdateTaskStatus() error = %v", err)
			}
			m, ok := body.(map[string]any)
			if !ok || m["code"] != float64(status) {
				t.Errorf("Expected decoded body, got %v", body)
			}
			if gotAuth != "" {
				t.Errorf("Expected no Authorization header, got %q", gotAuth)
			}
			if !strings.Contains(out.String(), fmt.Sprint(status)) {
				t.Errorf("Expected console line with status code, got %q", out.String())
			}
		})
	}
}

func TestListRuns_RelativeTime(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	client, _ := newTestClient(t, "token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"runid": "a", "created_at": "2026-10-19T10:00:00", "status": "finished"},
			{"runid": "b", "created_at": "2026-10-19T09:00:00+00:00", "status": "started"},
			{"runid": "c", "created_at": "yesterday", "status": "created"},
		})
	}, WithClock(func() time.Time { return now }))

	runs, err := client.ListRuns(context.Background())
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(runs))
	}

	expected := []string{"2 hours ago", "3 hours ago", ""}
	for i, want := range expected {
		if runs[i].CreatedAgo != want {
			t.Errorf("runs[%d].CreatedAgo = %q, want %q", i, runs[i].CreatedAgo, want)
		}
	}
	if runs[0].RunID != "a" || runs[2].Status != "created" {
		t.Errorf("Expected order and fields to be preserved, got %+v", runs)
	}
}

func TestRunDetail(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t, "token", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/runs/run-1" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"runid": "run-1",
			"tasks": []map[string]any{
				{"taskid": "t1", "name": "load", "status": "finished"},
				{"taskid": "t2", "name": "fit", "status": "started"},
			},
		})
	})

	tasks, err := client.RunDetail(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("RunDetail() error = %v", err)
	}
	if len(tasks) != 2 || tasks[0].TaskID != "t1" || tasks[1].Status != "started" {
		t.Errorf("Unexpected tasks %+v", tasks)
	}
}

func TestListProducts_Empty(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t, "token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []string{})
	})

	products, err := client.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("ListProducts() error = %v", err)
	}
	if products == nil || len(products) != 0 {
		t.Errorf("Expected empty non-nil list, got %#v", products)
	}
}

func TestProductURLs_EscapesPattern(t *testing.T) {
	t.Parallel()
	var escaped string
	client, _ := newTestClient(t, "token", func(w http.ResponseWriter, r *http.Request) {
		escaped = r.URL.EscapedPath()
		writeJSON(w, http.StatusOK, []string{"https://bucket.example/tasks/1/out.csv?sig=x"})
	})

	urls, err := client.ProductURLs(context.Background(), "tasks/out.csv")
	if err != nil {
		t.Fatalf("ProductURLs() error = %v", err)
	}
	if escaped != "/products/tasks%2Fout.csv" {
		t.Errorf("Expected escaped pattern, got %q", escaped)
	}
	if len(urls) != 1 {
		t.Errorf("Expected 1 url, got %v", urls)
	}
}

func TestRemoteErrorPropagates(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t, "token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{"message": "Forbidden"})
	})

	_, err := client.ListRuns(context.Background())
	var remote *apperrors.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("Expected *RemoteError, got %v", err)
	}
	if remote.Status != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", remote.Status)
	}
}

func TestWatch(t *testing.T) {
	t.Parallel()
	var polls atomic.Int64
	client, _ := newTestClient(t, "token", func(w http.ResponseWriter, r *http.Request) {
		status := run.StatusStarted
		if polls.Add(1) >= 3 {
			status = run.StatusFinished
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"tasks": []map[string]any{
				{"taskid": "t1", "status": run.StatusFinished},
				{"taskid": "t2", "status": status},
			},
		})
	}, WithPollBackoff(backoff.Config{Initial: time.Millisecond, Max: 5 * time.Millisecond}))

	updates := 0
	tasks, err := client.Watch(context.Background(), "run-1", func([]run.Task) { updates++ })
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if updates != 3 {
		t.Errorf("Expected 3 updates, got %d", updates)
	}
	if !run.AllTerminal(tasks) {
		t.Errorf("Expected all tasks terminal, got %+v", tasks)
	}
}

func TestWatch_NoTasks(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	client, calls := newTestClient(t, "token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"tasks": []any{}})
	},
		WithPollBackoff(backoff.Config{Initial: time.Millisecond, Max: time.Millisecond}),
		WithEmptyPollLimit(3),
		WithConsole(console.New(&out)),
	)

	_, err := client.Watch(context.Background(), "run-1", nil)
	if !errors.Is(err, ErrNoTasks) {
		t.Errorf("Expected ErrNoTasks, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 polls, got %d", calls.Load())
	}
	if strings.Count(out.String(), "has no tasks yet") != 1 {
		t.Errorf("Expected a single notice, got %q", out.String())
	}
}

func TestWatch_StopsOnRemoteError(t *testing.T) {
	t.Parallel()
	client, calls := newTestClient(t, "token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "no such run"})
	}, WithPollBackoff(backoff.Config{Initial: time.Millisecond}))

	_, err := client.Watch(context.Background(), "missing", nil)
	if !errors.Is(err, apperrors.ErrRemote) {
		t.Errorf("Expected ErrRemote, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a single call without retry, got %d", calls.Load())
	}
}

func TestWatch_ContextCancel(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t, "token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"tasks": []map[string]any{{"taskid": "t1", "status": run.StatusStarted}},
		})
	}, WithPollBackoff(backoff.Config{Initial: time.Hour, Max: time.Hour}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	tasks, err := client.Watch(ctx, "run-1", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("Expected last seen tasks, got %+v", tasks)
	}
}
