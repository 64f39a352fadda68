// Package protocol defines the contract between the graph executor and the
// node handlers it dispatches to.
package protocol

import (
	"context"
	"time"

	"github.com/dukex/claimflow/pkg/models"
)

// ContextKeyCaseID is the execution context key naming the subject case.
const ContextKeyCaseID = "caseId"

// NodeInput is what a handler sees of the running execution.
type NodeInput struct {
	ExecutionID string
	WorkflowID  string
	Node        *models.Node
	Params      models.NodeParams
	// Context is a copy; handlers return changes in Result.Output.
	Context map[string]any
	Now     time.Time
}

// Result is a handler's output. Output is merged into the execution context,
// last write wins.
type Result struct {
	Output map[string]any
	// ResumeAt holds the node's outgoing edges until the given time.
	ResumeAt *time.Time
}

// NodeHandler runs every node of one type.
type NodeHandler interface {
	Type() models.NodeType
	Name() string
	Description() string
	// Schema is the JSON schema the node params must satisfy.
	Schema() map[string]any
	Execute(ctx context.Context, input NodeInput) (Result, error)
}
