// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/dukex/claimflow/pkg/nodes/casestatus"
	"github.com/dukex/claimflow/pkg/nodes/fileclaim"
	"github.com/dukex/claimflow/pkg/nodes/letter"
	"github.com/dukex/claimflow/pkg/nodes/notify"
	"github.com/dukex/claimflow/pkg/nodes/reminder"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/dukex/claimflow/pkg/registry"
)

// NewRegistry registers the built-in nodes. Letters, notifications and
// reminders use the in-process collaborators; queue bridges into the
// submission queue.
func NewRegistry(logger *slog.Logger, p persistence.Persistence, queue fileclaim.Enqueuer) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.RegisterDefaultNodes(registry.Collaborators{
		Cases:     p.CaseRepository(),
		Queue:     queue,
		Letters:   letter.NewTemplateGenerator(nil),
		Notifier:  notify.NewLogNotifier(logger),
		Status:    casestatus.NewRepositoryUpdater(p.CaseRepository()),
		Reminders: reminder.NewMemoryScheduler(),
	})

	return reg
}
