package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidWorkflow marks a definition rejected at save time.
var ErrInvalidWorkflow = errors.New("invalid workflow")

// ValidateWorkflow checks the definition before it is stored: struct rules,
// graph shape, and every node's params against its handler schema and typed
// variant. All node problems are reported together.
func (r *Registry) ValidateWorkflow(workflow *models.WorkflowDefinition) error {
	if err := r.validator.Struct(workflow); err != nil {
		return errors.Join(ErrInvalidWorkflow, err)
	}

	if err := workflow.ValidateGraph(); err != nil {
		return errors.Join(ErrInvalidWorkflow, err)
	}

	var problems []error

	for _, node := range workflow.Nodes {
		if err := r.validateNode(node); err != nil {
			problems = append(problems, fmt.Errorf("node %s: %w", node.ID, err))
		}
	}

	if len(problems) > 0 {
		return errors.Join(append([]error{ErrInvalidWorkflow}, problems...)...)
	}

	return nil
}

func (r *Registry) validateNode(node *models.Node) error {
	handler, err := r.Get(node.Type)
	if err != nil {
		return err
	}

	var document gojsonschema.JSONLoader = gojsonschema.NewGoLoader(map[string]any{})
	if len(node.Params) > 0 {
		document = gojsonschema.NewBytesLoader(node.Params)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(handler.Schema()), document)
	if err != nil {
		return fmt.Errorf("params validation failed: %w", err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return fmt.Errorf("params do not match schema: %s", strings.Join(messages, "; "))
	}

	params, err := node.Decode()
	if err != nil {
		return err
	}

	if err := r.validator.Struct(params); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}

	if wait, ok := params.(*models.WaitParams); ok {
		if _, err := wait.ParsedDuration(); err != nil {
			return err
		}
	}

	return nil
}
