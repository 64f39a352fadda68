// Package main provides the claimflow command: the operator API, the queue
// and resume worker, and maintenance commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/claimflow/pkg/cmd"
	"github.com/dukex/claimflow/pkg/log"
	"github.com/dukex/claimflow/pkg/otelhelper"
	"github.com/dukex/claimflow/pkg/submission"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort           = 9091
	defaultQueueSchedule  = "@every 30s"
	defaultResumeSchedule = "@every 1m"
	serviceName           = "claimflow"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := &cli.Command{
		Name:                  "claimflow",
		Usage:                 "Automate carrier claim filing workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file://dir or postgres://...)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			NewAPICommand(),
			NewWorkerCommand(),
			NewProcessQueueCommand(),
			NewSeedPortalsCommand(),
			NewValidateCommand(),
		},
	}

	if err := command.Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// stackFlags configure the services every long running command wires.
func stackFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "vault-key",
			Usage:    "Base64 encoded 32 byte credential encryption key",
			Required: true,
			Sources:  cli.EnvVars("VAULT_KEY"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the cross-process queue lease (optional)",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "browser-remote-url",
			Usage:   "DevTools websocket of an existing browser (launches one when empty)",
			Sources: cli.EnvVars("BROWSER_REMOTE_URL"),
		},
		&cli.DurationFlag{
			Name:    "submission-timeout",
			Usage:   "Upper bound for one portal submission attempt",
			Value:   submission.DefaultTimeout,
			Sources: cli.EnvVars("SUBMISSION_TIMEOUT"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
	}
}

func eventBusFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
	}
}

func stackConfig(command *cli.Command) cmd.StackConfig {
	return cmd.StackConfig{
		DatabaseURL:       command.String("database-url"),
		VaultKey:          command.String("vault-key"),
		RedisURL:          command.String("redis-url"),
		BrowserRemoteURL:  command.String("browser-remote-url"),
		SubmissionTimeout: command.Duration("submission-timeout"),
	}
}

// setupTracing installs the OTLP exporter when enabled. The returned func
// flushes it.
func setupTracing(ctx context.Context, command *cli.Command, name string) (func(), error) {
	if !command.Bool("otel-enabled") {
		return func() {}, nil
	}

	tracerProvider, err := otelhelper.NewTracerProvider(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = tracerProvider.Shutdown(shutdownCtx)
	}, nil
}
