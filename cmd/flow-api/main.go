package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/cmd"
	"github.com/Bojackxiang/n8n-demo/pkg/engine"
	"github.com/Bojackxiang/n8n-demo/pkg/log"
	"github.com/Bojackxiang/n8n-demo/pkg/metrics"
	"github.com/Bojackxiang/n8n-demo/pkg/otelhelper"
	"github.com/Bojackxiang/n8n-demo/pkg/planner"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort     = 9091
	shutdownTimeout = 30 * time.Second
)

func main() {
	command := &cli.Command{
		Name:                  "flow-api",
		Usage:                 "Manage workflows and execute their runs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Persistence URL (file path or postgres:// URL)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   cmd.EventBusGoChannel,
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.IntFlag{
				Name:    "max-concurrency",
				Usage:   "Executor calls in flight across all runs (0 uses the CPU count)",
				Sources: cli.EnvVars("MAX_CONCURRENCY"),
			},
			&cli.DurationFlag{
				Name:    "node-timeout",
				Usage:   "Default per-attempt timeout for nodes without one",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("NODE_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "cancel-grace",
				Usage:   "How long in-flight executor calls may finish after a cancel",
				Value:   engine.DefaultCancelGrace,
				Sources: cli.EnvVars("CANCEL_GRACE"),
			},
			&cli.FloatFlag{
				Name:    "launch-rate",
				Usage:   "Queued launches per second (0 for unlimited)",
				Sources: cli.EnvVars("LAUNCH_RATE"),
			},
			&cli.IntFlag{
				Name:  "launch-burst",
				Usage: "Burst allowed above the launch rate",
				Value: 10,
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("api")
	logger.InfoContext(ctx, "Initializing flow API")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMaxConcurrency(command.Int("max-concurrency")),
		engine.WithCancelGrace(command.Duration("cancel-grace")),
		engine.WithPlannerOptions(planner.WithDefaultTimeout(command.Duration("node-timeout"))),
	}

	if command.Bool("otel-enabled") {
		tracer, shutdownTracer, err := otelhelper.NewTracer(ctx, "flow-api")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				logger.Error("Failed to shutdown tracer provider", "error", err)
			}
		}()

		engineOpts = append(engineOpts, engine.WithTracer(tracer))
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(context.Background()); err != nil {
			logger.Error("Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(
		command.String("event-bus"),
		cmd.SplitBrokers(command.String("kafka-brokers")),
		"flow-api",
		logger,
	)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	collector := metrics.NewCollector()
	registry := cmd.NewRegistry(logger, command.Duration("node-timeout"))

	engineOpts = append(engineOpts, engine.WithMetrics(collector), engine.WithPublisher(eventBus))
	e := engine.New(persistence.Runs(), registry, engineOpts...)

	resumed, err := e.Resume(ctx)
	if err != nil {
		logger.Error("Some runs could not be resumed", "error", err)
	}

	logger.Info("Resumed unfinished runs", "count", resumed)

	api := NewAPI(logger, persistence, registry, e, collector, eventBus).
		WithLaunchRate(command.Float("launch-rate"), command.Int("launch-burst"))

	if err := api.StartDispatcher(ctx); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	app := api.App()
	errCh := make(chan error, 1)

	go func() {
		errCh <- api.listen(app, command.Int("port"))
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("API server stopped", "error", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down flow API")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown HTTP server", "error", err)
	}

	return e.Shutdown(shutdownCtx)
}
