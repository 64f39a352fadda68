// Package web provides HTTP request and response types for the claimflow API.
package web

import "github.com/dukex/claimflow/pkg/models"

// WorkflowRequest is the body for creating or replacing a workflow.
type WorkflowRequest struct {
	Name        string             `json:"name"                   validate:"required,min=3"`
	Category    string             `json:"category"`
	TriggerType models.TriggerType `json:"trigger_type,omitempty" validate:"omitempty,oneof=MANUAL CASE_EVENT SCHEDULE"`
	IsActive    *bool              `json:"is_active,omitempty"`
	Nodes       []*models.Node     `json:"nodes"                  validate:"required,min=1"`
	Edges       []*models.Edge     `json:"edges"`
}

// Definition converts the request; workflows are active unless stated.
func (r WorkflowRequest) Definition() *models.WorkflowDefinition {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}

	return &models.WorkflowDefinition{
		Name:        r.Name,
		Category:    r.Category,
		TriggerType: r.TriggerType,
		IsActive:    active,
		Nodes:       r.Nodes,
		Edges:       r.Edges,
	}
}

// ExecuteWorkflowRequest starts an execution. With Wait set the call returns
// once the execution completes, fails or pauses.
type ExecuteWorkflowRequest struct {
	Context map[string]any `json:"context"`
	Wait    bool           `json:"wait"`
}

// RequestExecutionRequest hands the execution to a dispatcher over the event bus.
type RequestExecutionRequest struct {
	Context     map[string]any `json:"context"`
	RequestedBy string         `json:"requested_by"`
}

// ExecutionResponse is an execution together with its step audit trail.
type ExecutionResponse struct {
	*models.WorkflowExecution

	Steps []*models.WorkflowExecutionStep `json:"steps,omitempty"`
}

// TestCredentialResponse is the outcome of a live login check.
type TestCredentialResponse struct {
	ID               string                  `json:"id"`
	ValidationStatus models.ValidationStatus `json:"validation_status"`
}

// PortalsResponse lists stored portal configs and the targets with a
// dedicated automation strategy.
type PortalsResponse struct {
	Configs    []*models.PortalConfig `json:"configs"`
	Strategies []string               `json:"strategies"`
}
