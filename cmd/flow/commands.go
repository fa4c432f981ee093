package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/cmd"
	"github.com/Bojackxiang/n8n-demo/pkg/config"
	"github.com/Bojackxiang/n8n-demo/pkg/engine"
	"github.com/Bojackxiang/n8n-demo/pkg/graph"
	"github.com/Bojackxiang/n8n-demo/pkg/log"
	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/persistence"
	"github.com/Bojackxiang/n8n-demo/pkg/planner"
	"github.com/Bojackxiang/n8n-demo/pkg/registry"
	"github.com/urfave/cli/v3"
)

var (
	ErrMissingFile   = errors.New("a workflow file is required")
	ErrInvalidGraph  = errors.New("workflow is invalid")
	ErrRunNotSuccess = errors.New("run did not succeed")
)

func loadArg(command *cli.Command) (*models.Workflow, error) {
	path := command.Args().First()
	if path == "" {
		return nil, ErrMissingFile
	}

	return config.LoadWorkflowFile(path)
}

func newLogger(command *cli.Command) *slog.Logger {
	return log.New(os.Stderr, command.String("log-level"), "text").With("module", "flow")
}

func validateCommand(_ context.Context, command *cli.Command) error {
	wf, err := loadArg(command)
	if err != nil {
		return err
	}

	return validateWorkflow(os.Stdout, wf)
}

func validateWorkflow(w io.Writer, wf *models.Workflow) error {
	res := graph.ValidateForRun(wf)
	if res.Valid() {
		fmt.Fprintf(w, "%s: valid (%d nodes, %d connections)\n", wf.ID, len(wf.Nodes), len(wf.Connections))

		return nil
	}

	for _, v := range res.Violations {
		fmt.Fprintf(w, "%s: %s %s\n", wf.ID, v.Code, v.Message)
	}

	return fmt.Errorf("%w: %d violations", ErrInvalidGraph, len(res.Violations))
}

func planCommand(_ context.Context, command *cli.Command) error {
	wf, err := loadArg(command)
	if err != nil {
		return err
	}

	reg := cmd.NewRegistry(newLogger(command), 0)

	return planWorkflow(os.Stdout, reg, wf)
}

func planWorkflow(w io.Writer, reg *registry.Registry, wf *models.Workflow) error {
	if err := graph.ValidateForRun(wf).Err(); err != nil {
		return err
	}

	plan, err := planner.New(reg).Plan("preview", wf)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(plan)
}

func runCommand(ctx context.Context, command *cli.Command) error {
	wf, err := loadArg(command)
	if err != nil {
		return err
	}

	var payload map[string]any

	if raw := command.String("payload"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
	}

	databaseURL := command.String("database-url")
	if databaseURL == "" {
		dir, err := os.MkdirTemp("", "flow-run-")
		if err != nil {
			return err
		}

		defer os.RemoveAll(dir)

		databaseURL = dir
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	logger := newLogger(command)

	store, err := cmd.NewPersistence(ctx, logger, databaseURL)
	if err != nil {
		return err
	}

	defer store.Close(context.Background())

	e := engine.New(store.Runs(), cmd.NewRegistry(logger, command.Duration("node-timeout")),
		engine.WithLogger(logger),
		engine.WithMaxConcurrency(command.Int("max-concurrency")),
		engine.WithPlannerOptions(planner.WithDefaultTimeout(command.Duration("node-timeout"))),
	)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = e.Shutdown(shutdownCtx)
	}()

	return runWorkflow(ctx, os.Stdout, e, store.Runs(), wf, engine.LaunchRequest{
		TriggerNodeID: command.String("trigger"),
		Payload:       payload,
	})
}

type runEngine interface {
	Launch(ctx context.Context, wf *models.Workflow, req engine.LaunchRequest) (*models.Run, error)
	Cancel(ctx context.Context, runID string) error
	Wait(ctx context.Context, runID string) (*models.Run, error)
}

// runWorkflow launches wf and blocks until it is terminal. Interrupting ctx
// cancels the run instead of abandoning it.
func runWorkflow(ctx context.Context, w io.Writer, e runEngine, runs persistence.RunRepository, wf *models.Workflow, req engine.LaunchRequest) error {
	run, err := e.Launch(ctx, wf, req)
	if err != nil {
		return err
	}

	final, err := e.Wait(ctx, run.ID)
	if errors.Is(err, context.Canceled) {
		if err := e.Cancel(context.Background(), run.ID); err != nil {
			return err
		}

		final, err = e.Wait(context.Background(), run.ID)
	}

	if err != nil {
		return err
	}

	records, err := runs.ListNodeInstances(context.Background(), run.ID)
	if err != nil {
		return err
	}

	printRun(w, final, records)

	if final.Status != models.RunStatusSucceeded {
		return fmt.Errorf("%w: %s", ErrRunNotSuccess, final.Status)
	}

	return nil
}

func printRun(w io.Writer, run *models.Run, records []*models.NodeExecutionRecord) {
	fmt.Fprintf(w, "Run %s: %s\n\n", run.ID, run.Status)

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE\tTYPE\tSTATUS\tATTEMPTS\tDETAIL")

	for _, rec := range records {
		detail := string(rec.SkipReason)
		if rec.Error != "" {
			detail = rec.Error
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", rec.InstanceID, rec.NodeType, rec.Status, rec.Attempts, detail)
	}

	_ = tw.Flush()
}
