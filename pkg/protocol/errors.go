package protocol

import (
	"errors"
	"fmt"

	"github.com/dukex/claimflow/pkg/models"
)

var (
	ErrMissingCaseID     = errors.New("missing caseId in execution context")
	ErrMissingCredential = errors.New("missing credentialId")
	ErrInvalidParams     = errors.New("invalid node params")
)

// NodeActionError is a handler failure tied to the node that raised it.
type NodeActionError struct {
	NodeID   string
	NodeType models.NodeType
	Err      error
}

func (e *NodeActionError) Error() string {
	return fmt.Sprintf("node %s (%s): %v", e.NodeID, e.NodeType, e.Err)
}

func (e *NodeActionError) Unwrap() error {
	return e.Err
}

func NewNodeActionError(input NodeInput, err error) *NodeActionError {
	return &NodeActionError{NodeID: input.Node.ID, NodeType: input.Node.Type, Err: err}
}

// CaseID reads the subject case id from the execution context.
func CaseID(input NodeInput) (string, error) {
	id, ok := models.StringID(input.Context[ContextKeyCaseID])
	if !ok {
		return "", NewNodeActionError(input, ErrMissingCaseID)
	}

	return id, nil
}

// Params asserts the decoded params to the handler's variant.
func Params[T models.NodeParams](input NodeInput) (T, error) {
	params, ok := input.Params.(T)
	if !ok {
		var zero T

		return zero, NewNodeActionError(input, fmt.Errorf("%w: got %T", ErrInvalidParams, input.Params))
	}

	return params, nil
}
