package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/claimflow/pkg/cmd"
	"github.com/dukex/claimflow/pkg/log"
	"github.com/dukex/claimflow/pkg/scheduler"
	"github.com/dukex/claimflow/pkg/workflow"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

// Worker ticks the submission queue and resumes executions whose wait has
// elapsed.
type Worker struct {
	stack     *cmd.Stack
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
}

func NewWorker(stack *cmd.Stack, logger *slog.Logger) *Worker {
	return &Worker{
		stack:     stack,
		scheduler: scheduler.New(logger),
		logger:    logger,
	}
}

// Schedule registers the queue and resume jobs.
func (w *Worker) Schedule(queueSpec, resumeSpec string) error {
	if err := w.scheduler.Add("process-queue", queueSpec, w.processQueue); err != nil {
		return err
	}

	return w.scheduler.Add("resume-due", resumeSpec, w.resumeDue)
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.scheduler.Start()

	<-ctx.Done()

	w.logger.InfoContext(ctx, "Stopping worker")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return w.scheduler.Stop(stopCtx)
}

func (w *Worker) processQueue(ctx context.Context) {
	result := w.stack.Queue.ProcessQueue(ctx)

	switch {
	case result.Idle, result.Skipped:
		return
	case result.Error != "" && result.SubmissionID == "":
		w.logger.ErrorContext(ctx, "queue cycle failed", "error", result.Error)
	default:
		w.logger.InfoContext(ctx, "queue cycle finished",
			"submission_id", result.SubmissionID, "attempt", result.Attempt, "status", result.Status)
	}
}

func (w *Worker) resumeDue(ctx context.Context) {
	resumed, err := w.stack.Executor.ResumeDue(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to resume executions", "error", err)

		return
	}

	if resumed > 0 {
		w.logger.InfoContext(ctx, "resumed executions", "count", resumed)
	}
}

func NewWorkerCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.StringFlag{
			Name:    "queue-schedule",
			Usage:   "Cron spec for submission queue cycles",
			Value:   defaultQueueSchedule,
			Sources: cli.EnvVars("QUEUE_SCHEDULE"),
		},
		&cli.StringFlag{
			Name:    "resume-schedule",
			Usage:   "Cron spec for resuming executions whose wait has elapsed",
			Value:   defaultResumeSchedule,
			Sources: cli.EnvVars("RESUME_SCHEDULE"),
		},
	}
	flags = append(flags, stackFlags()...)
	flags = append(flags, eventBusFlags()...)

	return &cli.Command{
		Name:    "worker",
		Aliases: []string{"w"},
		Usage:   "Process the submission queue, resume waiting executions and dispatch requests",
		Flags:   flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("claimflow-worker").With("workerId", workerID)

			logger.InfoContext(ctx, "Initializing Claimflow Worker")

			flush, err := setupTracing(ctx, command, serviceName+"-worker")
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

			if err := workflow.NewDispatcher(stack.Executor, eventBus, logger).Start(ctx); err != nil {
				return err
			}

			worker := NewWorker(stack, logger)
			if err := worker.Schedule(command.String("queue-schedule"), command.String("resume-schedule")); err != nil {
				return fmt.Errorf("failed to schedule worker jobs: %w", err)
			}

			return worker.Run(ctx)
		},
	}
}
