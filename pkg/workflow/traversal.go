package workflow

import (
	"time"

	"github.com/dukex/claimflow/pkg/models"
)

// newCheckpoint seeds the frontier with the start node. Every other node
// waits for all of its incoming edges to resolve.
func newCheckpoint(workflow *models.WorkflowDefinition, startID string) *models.Checkpoint {
	return &models.Checkpoint{
		Ready:     []string{startID},
		Pending:   workflow.InDegrees(),
		Activated: map[string]bool{},
	}
}

func ensureMaps(cp *models.Checkpoint, workflow *models.WorkflowDefinition) {
	if cp.Pending == nil {
		cp.Pending = workflow.InDegrees()
	}

	if cp.Activated == nil {
		cp.Activated = map[string]bool{}
	}
}

// resolve evaluates the outgoing edges of a finished node against data.
// Unconditioned edges are always taken; conditioned ones fail closed.
func resolve(workflow *models.WorkflowDefinition, data map[string]any, cp *models.Checkpoint, nodeID string) {
	for _, edge := range workflow.OutgoingEdges(nodeID) {
		taken := edge.Condition == nil || edge.Condition.Evaluate(data)
		settle(workflow, cp, edge.Target, taken)
	}
}

// settle records one resolved incoming edge of target. Once all of them are
// resolved the node is ready if any was taken. A node none of whose edges was
// taken is skipped, and its own outgoing edges resolve as not taken.
func settle(workflow *models.WorkflowDefinition, cp *models.Checkpoint, target string, taken bool) {
	if taken {
		cp.Activated[target] = true
	}

	cp.Pending[target]--
	if cp.Pending[target] > 0 {
		return
	}

	if cp.Activated[target] {
		cp.Ready = append(cp.Ready, target)

		return
	}

	for _, edge := range workflow.OutgoingEdges(target) {
		settle(workflow, cp, edge.Target, false)
	}
}

// releaseDue resolves the edges of delayed nodes whose time has come.
func releaseDue(workflow *models.WorkflowDefinition, data map[string]any, cp *models.Checkpoint, now time.Time) {
	if len(cp.Delayed) == 0 {
		return
	}

	var due []string

	remaining := cp.Delayed[:0]
	for _, delayed := range cp.Delayed {
		if delayed.Until.After(now) {
			remaining = append(remaining, delayed)
		} else {
			due = append(due, delayed.NodeID)
		}
	}

	cp.Delayed = remaining

	for _, nodeID := range due {
		resolve(workflow, data, cp, nodeID)
	}
}
