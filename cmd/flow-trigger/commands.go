package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Bojackxiang/n8n-demo/pkg/cmd"
	"github.com/Bojackxiang/n8n-demo/pkg/log"
	"github.com/Bojackxiang/n8n-demo/pkg/models"
	"github.com/Bojackxiang/n8n-demo/pkg/triggers"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
)

func RunTriggerService(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	serviceID := command.String("trigger-id")
	if serviceID == "" {
		serviceID = "trigger-service-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("trigger-service").With("service_id", serviceID)
	logger.InfoContext(ctx, "Starting trigger service")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

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
		"flow-trigger",
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to setup event bus: %w", err)
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	var redisClient redis.UniversalClient

	if url := command.String("redis-url"); url != "" {
		client, err := cmd.NewRedisClient(url)
		if err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}

		defer client.Close()

		redisClient = client
	}

	manager := NewTriggerManager(serviceID, persistence.Workflows(), eventBus, redisClient, logger)

	return manager.Run(ctx, command.Duration("sync-interval"))
}

func ListTriggers(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("trigger-service").With("action", "list")

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer persistence.Close(ctx)

	workflows, err := persistence.Workflows().GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch workflows: %w", err)
	}

	logger.InfoContext(ctx, "Fetched workflows", "count", len(workflows))

	printTriggers(os.Stdout, workflows)

	return nil
}

func printTriggers(w io.Writer, workflows []*models.Workflow) int {
	fmt.Fprintln(w, "Available Triggers:")
	fmt.Fprintln(w, "==================")

	total := 0

	for _, wf := range workflows {
		bindings, _ := triggers.Bindings(wf)
		if len(bindings) == 0 {
			continue
		}

		fmt.Fprintf(w, "\nWorkflow: %s (%s)\n", wf.Name, wf.ID)
		fmt.Fprintf(w, "Owner: %s\n", wf.Owner)
		fmt.Fprintf(w, "Triggers:\n")

		for _, b := range bindings {
			fmt.Fprintf(w, "  - Node: %s\n", b.NodeID)

			if b.Config.Schedule != "" {
				fmt.Fprintf(w, "    Schedule: %s\n", b.Config.Schedule)
			}

			if b.Config.Queue != "" {
				fmt.Fprintf(w, "    Queue: %s\n", b.Config.Queue)
			}

			total++
		}
	}

	fmt.Fprintf(w, "\nTotal triggers: %d\n", total)

	return total
}

func ValidateTriggers(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("trigger-service").With("action", "validate")

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer persistence.Close(ctx)

	workflows, err := persistence.Workflows().GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch workflows: %w", err)
	}

	logger.InfoContext(ctx, "Validating triggers", "workflows", len(workflows))

	return validateTriggers(os.Stdout, workflows)
}

func validateTriggers(w io.Writer, workflows []*models.Workflow) error {
	fmt.Fprintln(w, "Trigger Validation Results:")
	fmt.Fprintln(w, "===========================")

	valid, invalid := 0, 0

	for _, wf := range workflows {
		bindings, errs := triggers.Bindings(wf)

		for _, b := range bindings {
			fmt.Fprintf(w, "  VALID   %s\n", b.Target)

			valid++
		}

		for _, err := range errs {
			fmt.Fprintf(w, "  INVALID %v\n", err)

			invalid++
		}
	}

	fmt.Fprintf(w, "\nValidation Summary:\n")
	fmt.Fprintf(w, "  Valid triggers: %d\n", valid)
	fmt.Fprintf(w, "  Invalid triggers: %d\n", invalid)

	if invalid > 0 {
		return fmt.Errorf("found %d invalid triggers", invalid)
	}

	return nil
}
