// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"fmt"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/google/uuid"
)

// Node builds a node from typed params and panics on a marshalling error.
func Node(id string, params models.NodeParams) *models.Node {
	node, err := models.NewNode(id, params)
	if err != nil {
		panic(err)
	}

	return node
}

// Edge connects source to target.
func Edge(source, target string) *models.Edge {
	return &models.Edge{
		ID:     fmt.Sprintf("%s->%s", source, target),
		Source: source,
		Target: target,
	}
}

// ConditionalEdge connects source to target when condition holds.
func ConditionalEdge(source, target string, condition models.Condition) *models.Edge {
	edge := Edge(source, target)
	edge.Condition = &condition

	return edge
}

// CreateTestWorkflow creates an active START -> END workflow that overrides
// can reshape.
func CreateTestWorkflow(overrides ...func(*models.WorkflowDefinition)) *models.WorkflowDefinition {
	workflow := &models.WorkflowDefinition{
		ID:          uuid.New().String(),
		Name:        "Test Workflow",
		Category:    "test",
		TriggerType: models.TriggerTypeManual,
		IsActive:    true,
		Nodes: []*models.Node{
			Node("start", models.StartParams{}),
			Node("end", models.EndParams{}),
		},
		Edges: []*models.Edge{Edge("start", "end")},
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithGraph replaces the nodes and edges.
func WithGraph(nodes []*models.Node, edges ...*models.Edge) func(*models.WorkflowDefinition) {
	return func(w *models.WorkflowDefinition) {
		w.Nodes = nodes
		w.Edges = edges
	}
}

// WithInactive disables the workflow.
func WithInactive() func(*models.WorkflowDefinition) {
	return func(w *models.WorkflowDefinition) {
		w.IsActive = false
	}
}

// WithID sets the workflow ID.
func WithID(id string) func(*models.WorkflowDefinition) {
	return func(w *models.WorkflowDefinition) {
		w.ID = id
	}
}

// WithName sets the workflow name.
func WithName(name string) func(*models.WorkflowDefinition) {
	return func(w *models.WorkflowDefinition) {
		w.Name = name
	}
}

// CreateFilingWorkflow is START -> GENERATE_LETTER -> FILE_CLAIM ->
// UPDATE_STATUS(FILED) -> END.
func CreateFilingWorkflow(overrides ...func(*models.WorkflowDefinition)) *models.WorkflowDefinition {
	graph := WithGraph(
		[]*models.Node{
			Node("start", models.StartParams{}),
			Node("letter", models.GenerateLetterParams{
				TemplateID: "claim-cover",
				Template:   "Claim for case {{.caseId}}",
			}),
			Node("file", models.FileClaimParams{}),
			Node("status", models.UpdateStatusParams{Status: models.CaseStatusFiled}),
			Node("end", models.EndParams{}),
		},
		Edge("start", "letter"),
		Edge("letter", "file"),
		Edge("file", "status"),
		Edge("status", "end"),
	)

	return CreateTestWorkflow(append([]func(*models.WorkflowDefinition){WithName("File carrier claim"), graph}, overrides...)...)
}

// CreateTestCase creates an OPEN case against the given portal target.
func CreateTestCase(id, target string) *models.Case {
	return &models.Case{
		ID:     id,
		Target: target,
		Status: models.CaseStatusOpen,
		Fields: map[string]any{
			"tracking_number": "794644790132",
			"amount":          250.0,
		},
	}
}
