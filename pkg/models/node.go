package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeType tags a node with the action it performs.
type NodeType string

const (
	NodeTypeStart            NodeType = "START"
	NodeTypeEnd              NodeType = "END"
	NodeTypeWait             NodeType = "WAIT"
	NodeTypeCondition        NodeType = "CONDITION"
	NodeTypeFileClaim        NodeType = "FILE_CLAIM"
	NodeTypeSubmitToPortal   NodeType = "SUBMIT_TO_PORTAL"
	NodeTypeGenerateLetter   NodeType = "GENERATE_LETTER"
	NodeTypeSendNotification NodeType = "SEND_NOTIFICATION"
	NodeTypeUpdateStatus     NodeType = "UPDATE_STATUS"
	NodeTypeCreateReminder   NodeType = "CREATE_REMINDER"
)

// Node is one step of a workflow. Params holds the type-specific payload; use
// Decode to obtain the typed variant.
type Node struct {
	ID     string          `json:"id"               validate:"required"`
	Type   NodeType        `json:"type"             validate:"required"`
	Name   string          `json:"name,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// NodeParams is implemented by every typed node payload.
type NodeParams interface {
	NodeType() NodeType
}

type StartParams struct{}

func (StartParams) NodeType() NodeType { return NodeTypeStart }

type EndParams struct{}

func (EndParams) NodeType() NodeType { return NodeTypeEnd }

// WaitParams suspends the execution for Duration (a Go duration string, e.g. "48h").
type WaitParams struct {
	Duration string `json:"duration" validate:"required"`
}

func (WaitParams) NodeType() NodeType { return NodeTypeWait }

// ParsedDuration returns the wait duration.
func (p WaitParams) ParsedDuration() (time.Duration, error) {
	d, err := time.ParseDuration(p.Duration)
	if err != nil {
		return 0, fmt.Errorf("invalid wait duration %q: %w", p.Duration, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("invalid wait duration %q: negative", p.Duration)
	}

	return d, nil
}

// ConditionParams evaluates a condition for logging; branching happens on edges.
type ConditionParams struct {
	Condition Condition `json:"condition" validate:"required"`
}

func (ConditionParams) NodeType() NodeType { return NodeTypeCondition }

// FileClaimParams configures the bridge into the submission queue.
type FileClaimParams struct {
	CredentialID   string         `json:"credential_id,omitempty"`
	SubmissionType SubmissionType `json:"submission_type,omitempty" validate:"omitempty,oneof=NEW_CLAIM APPEAL"`
	Priority       Priority       `json:"priority,omitempty"        validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	Type           NodeType       `json:"-"`
}

func (p FileClaimParams) NodeType() NodeType {
	if p.Type == "" {
		return NodeTypeFileClaim
	}

	return p.Type
}

type GenerateLetterParams struct {
	TemplateID string `json:"template_id"        validate:"required"`
	Template   string `json:"template,omitempty"`
}

func (GenerateLetterParams) NodeType() NodeType { return NodeTypeGenerateLetter }

type SendNotificationParams struct {
	Channel   string `json:"channel"   validate:"required,oneof=email sms internal"`
	Recipient string `json:"recipient" validate:"required"`
	Message   string `json:"message"   validate:"required"`
}

func (SendNotificationParams) NodeType() NodeType { return NodeTypeSendNotification }

type UpdateStatusParams struct {
	Status string `json:"status" validate:"required"`
}

func (UpdateStatusParams) NodeType() NodeType { return NodeTypeUpdateStatus }

type CreateReminderParams struct {
	Title string `json:"title"  validate:"required"`
	DueIn string `json:"due_in" validate:"required"`
}

func (CreateReminderParams) NodeType() NodeType { return NodeTypeCreateReminder }

// Decode unmarshals Params into the variant for the node's type. The returned
// value is always a pointer to one of the *Params structs.
func (n *Node) Decode() (NodeParams, error) {
	var params NodeParams

	switch n.Type {
	case NodeTypeStart:
		return &StartParams{}, nil
	case NodeTypeEnd:
		return &EndParams{}, nil
	case NodeTypeWait:
		params = &WaitParams{}
	case NodeTypeCondition:
		params = &ConditionParams{}
	case NodeTypeFileClaim, NodeTypeSubmitToPortal:
		params = &FileClaimParams{Type: n.Type}
	case NodeTypeGenerateLetter:
		params = &GenerateLetterParams{}
	case NodeTypeSendNotification:
		params = &SendNotificationParams{}
	case NodeTypeUpdateStatus:
		params = &UpdateStatusParams{}
	case NodeTypeCreateReminder:
		params = &CreateReminderParams{}
	default:
		return nil, fmt.Errorf("unknown node type %q", n.Type)
	}

	if len(n.Params) > 0 {
		if err := json.Unmarshal(n.Params, params); err != nil {
			return nil, fmt.Errorf("invalid params for node %s (%s): %w", n.ID, n.Type, err)
		}
	}

	return params, nil
}

// NewNode builds a node from a typed payload.
func NewNode(id string, params NodeParams) (*Node, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params for node %s: %w", id, err)
	}

	return &Node{ID: id, Type: params.NodeType(), Params: raw}, nil
}
