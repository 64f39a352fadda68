// Package casestatus provides UPDATE_STATUS.
package casestatus

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/dukex/claimflow/pkg/protocol"
)

// Updater changes the status of a case in the case system.
type Updater interface {
	UpdateCaseStatus(ctx context.Context, caseID, status string) error
}

type Node struct {
	updater Updater
	logger  *slog.Logger
}

func New(updater Updater, logger *slog.Logger) *Node {
	return &Node{updater: updater, logger: logger.With("module", "update_status_node")}
}

func (*Node) Type() models.NodeType { return models.NodeTypeUpdateStatus }
func (*Node) Name() string          { return "Update Status" }
func (*Node) Description() string   { return "Moves the case to a new status" }

func (*Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{
				"type":     "string",
				"examples": []string{"FILED", "AWAITING_CARRIER", "CLOSED"},
			},
		},
		"required": []string{"status"},
	}
}

func (n *Node) Execute(ctx context.Context, input protocol.NodeInput) (protocol.Result, error) {
	params, err := protocol.Params[*models.UpdateStatusParams](input)
	if err != nil {
		return protocol.Result{}, err
	}

	caseID, err := protocol.CaseID(input)
	if err != nil {
		return protocol.Result{}, err
	}

	status := strings.ToUpper(strings.TrimSpace(params.Status))

	if err := n.updater.UpdateCaseStatus(ctx, caseID, status); err != nil {
		return protocol.Result{}, protocol.NewNodeActionError(input, err)
	}

	n.logger.InfoContext(ctx, "case status updated", "execution_id", input.ExecutionID, "case_id", caseID, "status", status)

	return protocol.Result{Output: map[string]any{"caseStatus": status}}, nil
}

// RepositoryUpdater writes the status through the case repository.
type RepositoryUpdater struct {
	cases persistence.CaseRepository
}

func NewRepositoryUpdater(cases persistence.CaseRepository) *RepositoryUpdater {
	return &RepositoryUpdater{cases: cases}
}

func (u *RepositoryUpdater) UpdateCaseStatus(ctx context.Context, caseID, status string) error {
	subject, err := u.cases.GetByID(ctx, caseID)
	if err != nil {
		return err
	}

	subject.Status = status

	return u.cases.Save(ctx, subject)
}
