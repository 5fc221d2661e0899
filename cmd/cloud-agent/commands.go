package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"cloudagent/internal/agent"
	"cloudagent/internal/console"
	cloudrun "cloudagent/internal/run"

	"github.com/spf13/pflag"
)

func dispatch(ctx context.Context, a *agent.Agent, out *console.Printer, cmd string, args []string) error {
	switch cmd {
	case "submit":
		return submitCmd(ctx, a, out, args)
	case "runs":
		return runsCmd(ctx, a)
	case "detail":
		return detailCmd(ctx, a, args)
	case "watch":
		return watchCmd(ctx, a, out, args)
	case "task-status":
		return taskStatusCmd(ctx, a, args)
	case "products":
		return productsCmd(ctx, a, out)
	case "download":
		return downloadCmd(ctx, a, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func submitCmd(ctx context.Context, a *agent.Agent, out *console.Printer, args []string) error {
	fs := pflag.NewFlagSet("submit", pflag.ContinueOnError)
	force := fs.Bool("force", false, "re-run every task regardless of cached products")
	number := fs.Int("github-number", 0, "pull request number the run belongs to")
	owner := fs.String("github-owner", "", "repository owner")
	repo := fs.String("github-repo", "", "repository name")
	graphPath := fs.String("graph", "", "JSON file with the task graph")
	excludes := fs.StringSlice("exclude", nil, "glob patterns to leave out of the archive")
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := agent.SubmitOptions{Force: *force, Excludes: *excludes}
	if fs.Changed("github-number") {
		opts.GitHubNumber = number
	}
	if *owner != "" {
		opts.GitHubOwner = owner
	}
	if *repo != "" {
		opts.GitHubRepo = repo
	}
	if *graphPath != "" {
		data, err := os.ReadFile(*graphPath)
		if err != nil {
			return fmt.Errorf("read task graph: %w", err)
		}
		if !json.Valid(data) {
			return fmt.Errorf("task graph %s is not valid JSON", *graphPath)
		}
		opts.Graph = cloudrun.Graph(data)
	}

	runID, err := a.Submit(ctx, opts)
	if err != nil {
		return err
	}
	out.Success("Run %s submitted", runID)
	return nil
}

func runsCmd(ctx context.Context, a *agent.Agent) error {
	runs, err := a.Registry.ListRuns(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tCREATED\tSTATUS")
	for _, r := range runs {
		created := r.CreatedAgo
		if created == "" {
			created = r.CreatedAt
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.RunID, created, r.Status)
	}
	return tw.Flush()
}

func detailCmd(ctx context.Context, a *agent.Agent, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("detail takes exactly one run id")
	}
	tasks, err := a.Registry.RunDetail(ctx, args[0])
	if err != nil {
		return err
	}
	printTasks(tasks)
	return nil
}

func watchCmd(ctx context.Context, a *agent.Agent, out *console.Printer, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("watch takes exactly one run id")
	}
	tasks, err := a.Registry.Watch(ctx, args[0], func(tasks []cloudrun.Task) {
		out.Info("%s", formatCounts(cloudrun.CountByStatus(tasks)))
	})
	if err != nil {
		return err
	}
	printTasks(tasks)
	return nil
}

func taskStatusCmd(ctx context.Context, a *agent.Agent, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("task-status takes a task id and a status")
	}
	// The registry prints the outcome
	_, err := a.Registry.UpdateTaskStatus(ctx, args[0], args[1])
	return err
}

func productsCmd(ctx context.Context, a *agent.Agent, out *console.Printer) error {
	products, err := a.Registry.ListProducts(ctx)
	if err != nil {
		return err
	}
	if len(products) == 0 {
		out.Notice("No products yet")
		return nil
	}
	for _, p := range products {
		out.Info("%s", p)
	}
	return nil
}

func downloadCmd(ctx context.Context, a *agent.Agent, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("download takes exactly one pattern")
	}
	return a.DownloadProducts(ctx, args[0])
}

func printTasks(tasks []cloudrun.Task) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK ID\tNAME\tSTATUS")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.TaskID, t.Name, t.Status)
	}
	tw.Flush()
}

func formatCounts(counts map[string]int) string {
	var parts []string
	for _, status := range []string{
		cloudrun.StatusCreated, cloudrun.StatusSubmitted, cloudrun.StatusStarted,
		cloudrun.StatusFinished, cloudrun.StatusFailed, cloudrun.StatusAborted,
	} {
		if n := counts[status]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", status, n))
		}
	}
	if len(parts) == 0 {
		return "no tasks yet"
	}
	return strings.Join(parts, ", ")
}
