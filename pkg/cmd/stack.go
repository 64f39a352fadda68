package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/claimflow/pkg/browser"
	"github.com/dukex/claimflow/pkg/eventbus"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/dukex/claimflow/pkg/portals"
	"github.com/dukex/claimflow/pkg/registry"
	"github.com/dukex/claimflow/pkg/submission"
	"github.com/dukex/claimflow/pkg/vault"
	"github.com/dukex/claimflow/pkg/workflow"
	"k8s.io/utils/clock"
)

// StackConfig is the process configuration shared by every command.
type StackConfig struct {
	DatabaseURL       string
	VaultKey          string
	RedisURL          string
	BrowserRemoteURL  string
	SubmissionTimeout time.Duration
}

// Stack is the wired set of services behind the API and the worker.
type Stack struct {
	Persistence persistence.Persistence
	Registry    *registry.Registry
	Executor    *workflow.Executor
	Queue       *submission.Queue
	Vault       *vault.Vault
	Strategies  *portals.Registry
	Browser     *browser.Pool

	lease  *submission.RedisLease
	logger *slog.Logger
}

// NewStack opens persistence and wires the vault, the browser coordinator,
// the submission queue and the executor. publisher may be nil.
func NewStack(ctx context.Context, logger *slog.Logger, cfg StackConfig, publisher eventbus.EventPublisher) (*Stack, error) {
	cipher, err := vault.NewCipherFromBase64(cfg.VaultKey)
	if err != nil {
		return nil, fmt.Errorf("invalid vault key: %w", err)
	}

	p, err := NewPersistence(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	s := &Stack{Persistence: p, logger: logger}

	var poolOpts []browser.Option
	if cfg.BrowserRemoteURL != "" {
		poolOpts = append(poolOpts, browser.WithRemoteURL(cfg.BrowserRemoteURL))
	}

	s.Browser = browser.NewPool(logger, poolOpts...)
	s.Strategies = portals.DefaultRegistry(logger)

	probe := submission.NewLoginProbe(s.Browser, s.Strategies, p.PortalConfigRepository(), logger)
	s.Vault = vault.New(cipher, p.CredentialRepository(), probe, clock.RealClock{}, logger)

	timeout := cfg.SubmissionTimeout
	if timeout <= 0 {
		timeout = submission.DefaultTimeout
	}

	coordinator := submission.NewCoordinator(s.Browser, s.Strategies, p.PortalConfigRepository(), s.Vault,
		p.SubmissionRepository(), logger, submission.WithTimeout(timeout))

	var queueOpts []submission.QueueOption

	if cfg.RedisURL != "" {
		// The lease outlives one attempt so a live holder keeps it.
		s.lease, err = submission.NewRedisLease(ctx, cfg.RedisURL, submission.DefaultLeaseKey, timeout+time.Minute, logger)
		if err != nil {
			_ = s.Close(ctx)

			return nil, err
		}

		queueOpts = append(queueOpts, submission.WithLease(s.lease))
	}

	s.Queue = submission.NewQueue(p.SubmissionRepository(), p.CaseRepository(), coordinator, logger, queueOpts...)
	s.Registry = NewRegistry(logger, p, s.Queue)

	var executorOpts []workflow.Option
	if publisher != nil {
		executorOpts = append(executorOpts, workflow.WithPublisher(publisher))
	}

	s.Executor = workflow.NewExecutor(p, s.Registry, logger, executorOpts...)

	return s, nil
}

// Close waits for background executions and releases every resource.
func (s *Stack) Close(ctx context.Context) error {
	var errs []error

	if s.Executor != nil {
		errs = append(errs, s.Executor.Shutdown(ctx))
	}

	if s.lease != nil {
		errs = append(errs, s.lease.Close())
	}

	if s.Browser != nil {
		errs = append(errs, s.Browser.Close())
	}

	errs = append(errs, s.Persistence.Close(ctx))

	return errors.Join(errs...)
}
