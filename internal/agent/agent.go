// Package agent composes the archiver, registry, upload and download
// components into the user-facing workflows.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"cloudagent/internal/archive"
	"cloudagent/internal/config"
	"cloudagent/internal/console"
	"cloudagent/internal/dispatcher"
	"cloudagent/internal/download"
	"cloudagent/internal/observability"
	"cloudagent/internal/registry"
	"cloudagent/internal/run"
	"cloudagent/internal/transport"
	"cloudagent/internal/upload"
	"cloudagent/pkg/backoff"
	"cloudagent/pkg/circuitbreaker"
	"cloudagent/pkg/cloudevent"
)

// EventSource identifies this agent in emitted CloudEvents.
const EventSource = "cloudagent"

// Agent wires every component from one resolved configuration.
type Agent struct {
	Registry *registry.Client
	Uploader *upload.Uploader
	Engine   *download.Engine

	config     *config.AgentConfig
	console    *console.Printer
	dispatcher *dispatcher.Memory // nil without a callback URL
	events     *run.EventBuilder
}

// New builds an Agent. metrics may be nil.
func New(cfg *config.AgentConfig, metrics *observability.Metrics, out *console.Printer) *Agent {
	tr := transport.New(transport.Config{
		BaseURL: cfg.Host,
		Token:   cfg.APIKey,
		Timeout: cfg.RequestTimeout,
		Metrics: metrics,
	})

	var breaker *circuitbreaker.Hosts
	if cfg.BreakerThreshold > 0 {
		breaker = circuitbreaker.NewHosts(circuitbreaker.Config{Threshold: cfg.BreakerThreshold})
	}

	return &Agent{
		Registry: registry.New(tr,
			registry.WithConsole(out),
			registry.WithPollBackoff(backoff.Config{Initial: cfg.PollInitial, Max: cfg.PollMax}),
		),
		Uploader: upload.New(tr, upload.Config{
			Root:    cfg.ProjectRoot,
			Timeout: cfg.UploadTimeout,
			Console: out,
			Metrics: metrics,
		}),
		Engine: &download.Engine{
			Workers: cfg.DownloadWorkers,
			Timeout: cfg.DownloadTimeout,
			Root:    cfg.DownloadRoot,
			Breaker: breaker,
			Metrics: metrics,
		},
		config:  cfg,
		console: out,
		dispatcher: dispatcher.New(dispatcher.Config{
			URL:         cfg.CallbackURL,
			Key:         cfg.CallbackKey,
			HTTPTimeout: cfg.CallbackTimeout,
		}),
		events: run.NewEventBuilder(EventSource),
	}
}

// Close waits for pending lifecycle events to be delivered.
func (a *Agent) Close(ctx context.Context) error {
	return a.dispatcher.Close(ctx)
}

// notify queues a lifecycle event. Delivery problems never fail a workflow.
func (a *Agent) notify(event *cloudevent.CloudEvent) {
	if err := a.dispatcher.Dispatch(event); err != nil {
		slog.Warn("Event not queued", "type", event.Type, "error", err)
	}
}

// SubmitOptions describes a run submission.
type SubmitOptions struct {
	Force        bool
	GitHubNumber *int
	GitHubOwner  *string
	GitHubRepo   *string
	Graph        run.Graph // Submitted after the upload when non-empty
	Excludes     []string
}

// Submit registers a run, packages the project with the run id embedded,
// uploads it and submits the task graph. It returns the run id.
func (a *Agent) Submit(ctx context.Context, opts SubmitOptions) (string, error) {
	root := a.config.ProjectRoot
	if err := upload.CheckPrecondition(root); err != nil {
		return "", err
	}

	meta := run.Metadata{
		Force:        opts.Force,
		GitHubNumber: opts.GitHubNumber,
		GitHubOwner:  opts.GitHubOwner,
		GitHubRepo:   opts.GitHubRepo,
	}
	runID, err := a.Registry.CreateRun(ctx, meta)
	if err != nil {
		return "", err
	}
	meta.RunID = runID
	a.notify(a.events.BuildCreatedEvent(meta))

	logger := slog.With("runId", runID)

	a.console.Info("Zipping project...")
	archiver := &archive.Archiver{Root: root, Excludes: opts.Excludes, Console: a.console}
	archivePath, err := archiver.Build(ctx, meta)
	if err != nil {
		return runID, err
	}

	a.console.Info("Uploading project...")
	if err := a.Uploader.Upload(ctx, archivePath); err != nil {
		return runID, err
	}

	var size int64
	if info, err := os.Stat(archivePath); err == nil {
		size = info.Size()
	}
	a.notify(a.events.BuildUploadedEvent(runID, size))

	if len(opts.Graph) > 0 {
		if _, err := a.Registry.UpdateRun(ctx, runID, opts.Graph); err != nil {
			return runID, err
		}
		logger.Info("Task graph submitted")
	}

	logger.Info("Run submitted", "archive", archivePath, "bytes", size)
	return runID, nil
}

// DownloadProducts downloads every product matching pattern into the
// configured download root. No match is not an error.
func (a *Agent) DownloadProducts(ctx context.Context, pattern string) error {
	urls, err := a.Registry.ProductURLs(ctx, pattern)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		a.console.Notice("No products match %s", pattern)
		return nil
	}

	a.console.Info("Downloading %d files...", len(urls))
	err = a.Engine.DownloadAll(ctx, urls)
	a.notify(a.events.BuildDownloadedEvent(pattern, len(urls), err))
	if err != nil {
		return fmt.Errorf("download products %q: %w", pattern, err)
	}

	a.console.Success("Downloaded %d files into %s", len(urls), a.Engine.Root)
	return nil
}
