package main

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/claimflow/pkg/cmd"
	"github.com/dukex/claimflow/pkg/eventbus"
	"github.com/dukex/claimflow/pkg/log"
	"github.com/dukex/claimflow/pkg/services"
	"github.com/dukex/claimflow/pkg/web"
	"github.com/dukex/claimflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	cli "github.com/urfave/cli/v3"
)

type API struct {
	logger    *slog.Logger
	stack     *cmd.Stack
	publisher eventbus.EventPublisher
	validate  *validator.Validate
}

func NewAPI(logger *slog.Logger, stack *cmd.Stack, publisher eventbus.EventPublisher) *API {
	return &API{
		logger:    logger,
		stack:     stack,
		publisher: publisher,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(web.Dependencies{
		Workflows:     services.NewWorkflow(a.stack.Persistence, a.stack.Registry, a.logger),
		Executor:      a.stack.Executor,
		Queue:         a.stack.Queue,
		Vault:         a.stack.Vault,
		PortalConfigs: a.stack.Persistence.PortalConfigRepository(),
		Strategies:    a.stack.Strategies,
		Publisher:     a.publisher,
		Registry:      a.stack.Registry,
		Validator:     a.validate,
	})

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Claimflow API")
	})

	handlers.Register(app)

	return app
}

// Start serves until ctx is cancelled, then shuts the server down.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	errCh := make(chan error, 1)

	go func() {
		errCh <- app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	a.logger.InfoContext(ctx, "API listening", "port", port)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return app.ShutdownWithContext(shutdownCtx)
}

func NewAPICommand() *cli.Command {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
	}
	flags = append(flags, stackFlags()...)
	flags = append(flags, eventBusFlags()...)

	return &cli.Command{
		Name:  "api",
		Usage: "Serve the operator API and dispatch requested executions",
		Flags: flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing Claimflow API")

			flush, err := setupTracing(ctx, command, serviceName+"-api")
			if err != nil {
				return err
			}
			defer flush()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), serviceName, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			stack, err := cmd.NewStack(ctx, logger, stackConfig(command), eventBus)
			if err != nil {
				return err
			}
			defer func() {
				if err := stack.Close(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to close services", "error", err)
				}
			}()

			dispatcher := workflow.NewDispatcher(stack.Executor, eventBus, logger)
			if err := dispatcher.Start(ctx); err != nil {
				return err
			}

			err = NewAPI(logger, stack, eventBus).Start(ctx, int(command.Int("port")))
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.ErrorContext(ctx, "API server stopped", "error", err)

				return err
			}

			return nil
		},
	}
}
