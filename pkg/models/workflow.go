// Package models defines the core domain models for workflow graphs, executions and portal submissions.
package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedGraph indicates the workflow graph cannot be executed as defined.
	ErrMalformedGraph = errors.New("malformed workflow graph")

	// ErrWorkflowInactive indicates the workflow definition is disabled.
	ErrWorkflowInactive = errors.New("workflow is inactive")
)

// TriggerType describes how a workflow is started.
type TriggerType string

const (
	TriggerTypeManual    TriggerType = "MANUAL"
	TriggerTypeCaseEvent TriggerType = "CASE_EVENT"
	TriggerTypeSchedule  TriggerType = "SCHEDULE"
)

// WorkflowDefinition is a directed acyclic graph of typed action nodes.
type WorkflowDefinition struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"             validate:"required,min=3"`
	Category       string      `json:"category"`
	Nodes          []*Node     `json:"nodes"            validate:"required,min=1,dive"`
	Edges          []*Edge     `json:"edges"            validate:"dive"`
	TriggerType    TriggerType `json:"trigger_type"`
	IsActive       bool        `json:"is_active"`
	ExecutionCount int         `json:"execution_count"`
	SuccessCount   int         `json:"success_count"`
	FailureCount   int         `json:"failure_count"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Edge connects two nodes. An edge with a nil Condition is always taken.
type Edge struct {
	ID        string     `json:"id"                  validate:"required"`
	Source    string     `json:"source"              validate:"required"`
	Target    string     `json:"target"              validate:"required"`
	Condition *Condition `json:"condition,omitempty"`
}

// NodeByID returns the node with the given id.
func (w *WorkflowDefinition) NodeByID(id string) (*Node, bool) {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// OutgoingEdges returns the edges leaving the given node, in definition order.
func (w *WorkflowDefinition) OutgoingEdges(nodeID string) []*Edge {
	var edges []*Edge

	for _, edge := range w.Edges {
		if edge.Source == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// InDegrees returns the number of incoming edges for every node.
func (w *WorkflowDefinition) InDegrees() map[string]int {
	degrees := make(map[string]int, len(w.Nodes))
	for _, node := range w.Nodes {
		degrees[node.ID] = 0
	}

	for _, edge := range w.Edges {
		degrees[edge.Target]++
	}

	return degrees
}

// StartNode locates the single node with no incoming edges.
func (w *WorkflowDefinition) StartNode() (*Node, error) {
	var starts []*Node

	degrees := w.InDegrees()
	for _, node := range w.Nodes {
		if degrees[node.ID] == 0 {
			starts = append(starts, node)
		}
	}

	if len(starts) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one start node, found %d", ErrMalformedGraph, len(starts))
	}

	return starts[0], nil
}

// ValidateGraph checks structural invariants: unique node ids, edges referencing
// existing nodes, a single start node and no cycles.
func (w *WorkflowDefinition) ValidateGraph() error {
	seen := make(map[string]bool, len(w.Nodes))
	for _, node := range w.Nodes {
		if seen[node.ID] {
			return fmt.Errorf("%w: duplicate node id %q", ErrMalformedGraph, node.ID)
		}

		seen[node.ID] = true
	}

	for _, edge := range w.Edges {
		if !seen[edge.Source] || !seen[edge.Target] {
			return fmt.Errorf("%w: edge %q references unknown node", ErrMalformedGraph, edge.ID)
		}
	}

	if _, err := w.StartNode(); err != nil {
		return err
	}

	// Kahn's algorithm; anything left over sits on a cycle.
	degrees := w.InDegrees()
	queue := make([]string, 0, len(w.Nodes))

	for id, degree := range degrees {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++

		for _, edge := range w.OutgoingEdges(id) {
			degrees[edge.Target]--
			if degrees[edge.Target] == 0 {
				queue = append(queue, edge.Target)
			}
		}
	}

	if visited != len(w.Nodes) {
		return fmt.Errorf("%w: graph contains a cycle", ErrMalformedGraph)
	}

	return nil
}
