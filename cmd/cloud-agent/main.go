// cloud-agent submits projects to the cloud executor and retrieves their products.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloudagent/internal/agent"
	"cloudagent/internal/apperrors"
	"cloudagent/internal/config"
	"cloudagent/internal/console"
	"cloudagent/internal/observability"

	"github.com/spf13/pflag"
)

const usage = `Usage: cloud-agent [--verbose] <command> [flags] [args]

Commands:
  submit                     Package and upload the project, then submit its task graph
  runs                       List runs
  detail <run-id>            Show the tasks of a run
  watch <run-id>             Poll a run until every task finished
  task-status <id> <status>  Set the status of a task
  products                   List produced artifacts
  download <pattern>         Download products matching pattern
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	global := pflag.NewFlagSet("cloud-agent", pflag.ContinueOnError)
	global.SetInterspersed(false)
	verbose := global.BoolP("verbose", "v", false, "enable debug logging")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := global.Parse(args); err != nil {
		return apperrors.ExitFailure
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	// Console output goes to stdout, structured logs to stderr
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if global.NArg() == 0 {
		global.Usage()
		return apperrors.ExitFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadAgentConfig()
	out := console.Stdout()

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		slog.Error("Failed to set up metrics", "error", err)
		return apperrors.ExitFailure
	}
	if cfg.MetricsAddr != "" {
		shutdown := serveMetrics(cfg.MetricsAddr, metricsHandler)
		defer shutdown()
	}

	a := agent.New(cfg, metrics, out)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.CallbackTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			slog.Warn("Pending events were not delivered", "error", err)
		}
	}()
	cmd, cmdArgs := global.Arg(0), global.Args()[1:]

	err = dispatch(ctx, a, out, cmd, cmdArgs)
	if err == nil {
		return apperrors.ExitOK
	}

	out.Error("Error: %v", err)
	var bulk *apperrors.BulkDownloadError
	if errors.As(err, &bulk) {
		fmt.Fprint(os.Stderr, bulk.Summary())
	}
	slog.Error("Command failed", "command", cmd, "error", err)
	return apperrors.ExitCode(err)
}

func serveMetrics(addr string, handler http.Handler) func() {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", handler)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting metrics server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}
}
