package registry

import (
	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/nodes/casestatus"
	"github.com/dukex/claimflow/pkg/nodes/conditional"
	"github.com/dukex/claimflow/pkg/nodes/control"
	"github.com/dukex/claimflow/pkg/nodes/fileclaim"
	"github.com/dukex/claimflow/pkg/nodes/letter"
	"github.com/dukex/claimflow/pkg/nodes/notify"
	"github.com/dukex/claimflow/pkg/nodes/reminder"
	"github.com/dukex/claimflow/pkg/persistence"
)

// Collaborators are the systems the built-in nodes delegate to.
type Collaborators struct {
	Cases     persistence.CaseRepository
	Queue     fileclaim.Enqueuer
	Letters   letter.Generator
	Notifier  notify.Notifier
	Status    casestatus.Updater
	Reminders reminder.Scheduler
}

// RegisterDefaultNodes registers all built-in node handlers with the registry.
func (r *Registry) RegisterDefaultNodes(c Collaborators) {
	r.RegisterNode(control.NewStart())
	r.RegisterNode(control.NewEnd())
	r.RegisterNode(control.NewWait())
	r.RegisterNode(conditional.New(r.logger))

	// Both names bridge into the submission queue
	r.RegisterNode(fileclaim.New(models.NodeTypeFileClaim, c.Cases, c.Queue, r.logger))
	r.RegisterNode(fileclaim.New(models.NodeTypeSubmitToPortal, c.Cases, c.Queue, r.logger))

	r.RegisterNode(letter.New(c.Letters, r.logger))
	r.RegisterNode(notify.New(c.Notifier, r.logger))
	r.RegisterNode(casestatus.New(c.Status, r.logger))
	r.RegisterNode(reminder.New(c.Reminders, r.logger))
}
