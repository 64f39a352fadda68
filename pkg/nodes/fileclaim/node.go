// Package fileclaim provides FILE_CLAIM and SUBMIT_TO_PORTAL, the bridge from
// a workflow into the submission queue.
package fileclaim

import (
	"context"
	"log/slog"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/dukex/claimflow/pkg/protocol"
	"github.com/dukex/claimflow/pkg/submission"
)

// ContextKeyCredentialID is read when the node has no credential_id param.
const ContextKeyCredentialID = "credentialId"

// Enqueuer is the part of the submission queue the node needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req submission.EnqueueRequest) (*models.SubmissionQueueItem, error)
}

type Node struct {
	nodeType models.NodeType
	cases    persistence.CaseRepository
	queue    Enqueuer
	logger   *slog.Logger
}

// New returns the handler for nodeType, FILE_CLAIM or SUBMIT_TO_PORTAL.
func New(nodeType models.NodeType, cases persistence.CaseRepository, queue Enqueuer, logger *slog.Logger) *Node {
	return &Node{
		nodeType: nodeType,
		cases:    cases,
		queue:    queue,
		logger:   logger.With("module", "file_claim_node"),
	}
}

func (n *Node) Type() models.NodeType { return n.nodeType }

func (n *Node) Name() string {
	if n.nodeType == models.NodeTypeSubmitToPortal {
		return "Submit to Portal"
	}

	return "File Claim"
}

func (n *Node) Description() string {
	return "Queues a claim submission for the case's carrier portal"
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"credential_id": map[string]any{
				"type":        "string",
				"description": "Portal credential to log in with. Defaults to credentialId in the execution context.",
			},
			"submission_type": map[string]any{
				"type":    "string",
				"enum":    []string{"NEW_CLAIM", "APPEAL"},
				"default": "NEW_CLAIM",
			},
			"priority": map[string]any{
				"type":    "string",
				"enum":    []string{"LOW", "MEDIUM", "HIGH", "URGENT"},
				"default": "HIGH",
			},
		},
		"additionalProperties": false,
	}
}

// Execute snapshots the case into a HIGH priority submission.
func (n *Node) Execute(ctx context.Context, input protocol.NodeInput) (protocol.Result, error) {
	params, err := protocol.Params[*models.FileClaimParams](input)
	if err != nil {
		return protocol.Result{}, err
	}

	caseID, err := protocol.CaseID(input)
	if err != nil {
		return protocol.Result{}, err
	}

	credentialID := params.CredentialID
	if credentialID == "" {
		credentialID, _ = models.StringID(input.Context[ContextKeyCredentialID])
	}

	if credentialID == "" {
		return protocol.Result{}, protocol.NewNodeActionError(input, protocol.ErrMissingCredential)
	}

	subject, err := n.cases.GetByID(ctx, caseID)
	if err != nil {
		return protocol.Result{}, protocol.NewNodeActionError(input, err)
	}

	submissionType := params.SubmissionType
	if submissionType == "" {
		submissionType = models.SubmissionTypeNewClaim
	}

	priority := params.Priority
	if priority == "" {
		priority = models.PriorityHigh
	}

	item, err := n.queue.Enqueue(ctx, submission.EnqueueRequest{
		CaseID:         subject.ID,
		Target:         subject.Target,
		CredentialID:   credentialID,
		SubmissionType: submissionType,
		Priority:       priority,
		FormData:       subject.FormData(),
	})
	if err != nil {
		return protocol.Result{}, protocol.NewNodeActionError(input, err)
	}

	n.logger.InfoContext(ctx, "claim queued for portal submission",
		"execution_id", input.ExecutionID, "case_id", caseID, "submission_id", item.ID, "target", item.Target)

	return protocol.Result{Output: map[string]any{
		"queued":       true,
		"submissionId": item.ID,
	}}, nil
}
