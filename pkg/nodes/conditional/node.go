// Package conditional provides the CONDITION node. Branching itself happens on
// edges; the node records the result in the context.
package conditional

import (
	"context"
	"log/slog"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/protocol"
)

type Node struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Node {
	return &Node{logger: logger.With("module", "condition_node")}
}

func (*Node) Type() models.NodeType { return models.NodeTypeCondition }
func (*Node) Name() string          { return "Condition" }

func (*Node) Description() string {
	return "Evaluates a condition against the execution context and records the result"
}

func (*Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"condition": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"field": map[string]any{
						"type":        "string",
						"description": "Dotted path into the execution context",
						"examples":    []string{"case.amount", "letterId", "items.0.sku"},
					},
					"operator": map[string]any{
						"type": "string",
						"enum": []string{
							"equals", "notEquals", "greaterThan", "lessThan",
							"contains", "exists", "missing",
						},
					},
					"value": map[string]any{},
				},
				"required": []string{"field", "operator"},
			},
		},
		"required": []string{"condition"},
	}
}

func (n *Node) Execute(ctx context.Context, input protocol.NodeInput) (protocol.Result, error) {
	params, err := protocol.Params[*models.ConditionParams](input)
	if err != nil {
		return protocol.Result{}, err
	}

	result := params.Condition.Evaluate(input.Context)

	n.logger.DebugContext(ctx, "condition evaluated",
		"execution_id", input.ExecutionID, "node_id", input.Node.ID,
		"field", params.Condition.Field, "operator", params.Condition.Operator, "result", result)

	return protocol.Result{Output: map[string]any{"conditionResult": result}}, nil
}
