package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/cmd"
	cli "github.com/urfave/cli/v3"
)

func main() {
	databaseFlag := &cli.StringFlag{
		Name:     "database-url",
		Usage:    "Persistence URL (file path or postgres:// URL)",
		Required: true,
		Sources:  cli.EnvVars("DATABASE_URL"),
	}

	logLevelFlag := &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level (debug, info, warn, error)",
		Value:   "info",
		Sources: cli.EnvVars("LOG_LEVEL"),
	}

	command := &cli.Command{
		Name:                  "flow-trigger",
		Usage:                 "Run schedule and queue triggers and publish run requests",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			{
				Name:    "run",
				Aliases: []string{"r"},
				Usage:   "Start trigger listeners and run request publishers",
				Flags: []cli.Flag{
					databaseFlag,
					logLevelFlag,
					&cli.StringFlag{
						Name:    "trigger-id",
						Aliases: []string{"id"},
						Usage:   "Custom trigger service ID (auto-generated if not provided)",
					},
					&cli.StringFlag{
						Name:    "event-bus",
						Usage:   "Event bus type (gochannel, kafka)",
						Value:   cmd.EventBusKafka,
						Sources: cli.EnvVars("EVENT_BUS_TYPE"),
					},
					&cli.StringFlag{
						Name:    "kafka-brokers",
						Usage:   "Comma separated Kafka brokers",
						Sources: cli.EnvVars("KAFKA_BROKERS"),
					},
					&cli.StringFlag{
						Name:    "redis-url",
						Usage:   "Redis URL for queue triggers (queue triggers are disabled when empty)",
						Sources: cli.EnvVars("REDIS_URL"),
					},
					&cli.DurationFlag{
						Name:  "sync-interval",
						Usage: "How often stored workflows are re-read",
						Value: 30 * time.Second,
					},
				},
				Action: RunTriggerService,
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List the schedule and queue triggers of every workflow",
				Flags:   []cli.Flag{databaseFlag, logLevelFlag},
				Action:  ListTriggers,
			},
			{
				Name:    "validate",
				Aliases: []string{"v"},
				Usage:   "Validate trigger configurations",
				Flags:   []cli.Flag{databaseFlag, logLevelFlag},
				Action:  ValidateTriggers,
			},
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
