package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dukex/claimflow/pkg/cmd"
	"github.com/dukex/claimflow/pkg/log"
	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"
)

// Static error variables for linter compliance.
var (
	ErrInvalidWorkflows     = errors.New("invalid workflows found")
	ErrInvalidPortalConfigs = errors.New("invalid portal configs found")
)

func NewProcessQueueCommand() *cli.Command {
	return &cli.Command{
		Name:  "process-queue",
		Usage: "Run one submission queue cycle and print its result",
		Flags: stackFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("claimflow-queue")

			stack, err := cmd.NewStack(ctx, logger, stackConfig(command), nil)
			if err != nil {
				return err
			}
			defer func() {
				if err := stack.Close(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to close services", "error", err)
				}
			}()

			encoder := json.NewEncoder(command.Root().Writer)
			encoder.SetIndent("", "  ")

			return encoder.Encode(stack.Queue.ProcessQueue(ctx))
		},
	}
}

func NewSeedPortalsCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed-portals",
		Usage: "Create or replace portal configs from a JSON file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "portals-file",
				Usage:    "JSON array of portal configs",
				Required: true,
				Sources:  cli.EnvVars("PORTALS_FILE"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("claimflow-seed")

			f, err := os.Open(command.String("portals-file"))
			if err != nil {
				return fmt.Errorf("failed to open portals file: %w", err)
			}
			defer func() { _ = f.Close() }()

			configs, err := decodePortalConfigs(f)
			if err != nil {
				return err
			}

			p, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}
			defer func() { _ = p.Close(ctx) }()

			if err := seedPortals(ctx, p.PortalConfigRepository(), configs); err != nil {
				return err
			}

			logger.InfoContext(ctx, "Seeded portal configs", "count", len(configs))

			return nil
		},
	}
}

// decodePortalConfigs reads and validates every config before any is saved.
func decodePortalConfigs(r io.Reader) ([]*models.PortalConfig, error) {
	var configs []*models.PortalConfig
	if err := json.NewDecoder(r).Decode(&configs); err != nil {
		return nil, fmt.Errorf("failed to decode portals file: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	var problems []error

	for i, config := range configs {
		if err := validate.Struct(config); err != nil {
			problems = append(problems, fmt.Errorf("portal %d (%s): %w", i, config.Target, err))
		}
	}

	if len(problems) > 0 {
		return nil, errors.Join(append([]error{ErrInvalidPortalConfigs}, problems...)...)
	}

	return configs, nil
}

func seedPortals(ctx context.Context, repo persistence.PortalConfigRepository, configs []*models.PortalConfig) error {
	for _, config := range configs {
		if err := repo.Save(ctx, config); err != nil {
			return fmt.Errorf("failed to save portal %s: %w", config.Target, err)
		}
	}

	return nil
}

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate stored workflow definitions against the registered nodes",
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("claimflow-validate")

			p, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}
			defer func() { _ = p.Close(ctx) }()

			return validateWorkflows(ctx, command.Root().Writer, p, cmd.NewRegistry(logger, p, nil))
		},
	}
}

type workflowValidator interface {
	ValidateWorkflow(workflow *models.WorkflowDefinition) error
}

func validateWorkflows(ctx context.Context, out io.Writer, p persistence.Persistence, v workflowValidator) error {
	workflows, err := p.WorkflowRepository().GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch workflows: %w", err)
	}

	_, _ = fmt.Fprintln(out, "Workflow Validation Results:")
	_, _ = fmt.Fprintln(out, "============================")

	invalid := 0

	for _, workflow := range workflows {
		_, _ = fmt.Fprintf(out, "\nWorkflow: %s (%s)\n", workflow.Name, workflow.ID)

		if err := v.ValidateWorkflow(workflow); err != nil {
			_, _ = fmt.Fprintf(out, "    INVALID: %v\n", err)
			invalid++

			continue
		}

		_, _ = fmt.Fprintf(out, "    VALID\n")
	}

	_, _ = fmt.Fprintf(out, "\nValidation Summary:\n")
	_, _ = fmt.Fprintf(out, "  Total workflows: %d\n", len(workflows))
	_, _ = fmt.Fprintf(out, "  Invalid workflows: %d\n", invalid)

	if invalid > 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkflows, invalid)
	}

	return nil
}
