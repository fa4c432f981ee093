package main

import (
	"context"
	"fmt"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "flow",
		Usage:                 "Validate, plan and run workflow files locally",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Aliases:   []string{"v"},
				Usage:     "Report every graph violation of a workflow file",
				ArgsUsage: "<workflow.yaml>",
				Action:    validateCommand,
			},
			{
				Name:      "plan",
				Aliases:   []string{"p"},
				Usage:     "Print the execution plan of a workflow file as JSON",
				ArgsUsage: "<workflow.yaml>",
				Action:    planCommand,
			},
			{
				Name:      "run",
				Aliases:   []string{"r"},
				Usage:     "Execute a workflow file and print its node-instances",
				ArgsUsage: "<workflow.yaml>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "trigger",
						Usage: "Trigger node to start from (all triggers when empty)",
					},
					&cli.StringFlag{
						Name:  "payload",
						Usage: "JSON object passed as the trigger payload",
					},
					&cli.StringFlag{
						Name:    "database-url",
						Usage:   "Persistence URL for the run log (a temporary directory when empty)",
						Sources: cli.EnvVars("DATABASE_URL"),
					},
					&cli.IntFlag{
						Name:    "max-concurrency",
						Usage:   "Executor calls in flight (0 uses the CPU count)",
						Sources: cli.EnvVars("MAX_CONCURRENCY"),
					},
					&cli.DurationFlag{
						Name:    "node-timeout",
						Usage:   "Default per-attempt timeout for nodes without one",
						Value:   30 * time.Second,
						Sources: cli.EnvVars("NODE_TIMEOUT"),
					},
				},
				Action: runCommand,
			},
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
