// Package control provides the flow nodes: START, END and WAIT.
package control

import (
	"context"
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/protocol"
)

type marker struct {
	nodeType    models.NodeType
	name        string
	description string
}

func (m marker) Type() models.NodeType { return m.nodeType }
func (m marker) Name() string          { return m.name }
func (m marker) Description() string   { return m.description }

func (m marker) Schema() map[string]any {
	return map[string]any{"type": "object", "additionalProperties": false}
}

func (m marker) Execute(context.Context, protocol.NodeInput) (protocol.Result, error) {
	return protocol.Result{Output: map[string]any{}}, nil
}

func NewStart() protocol.NodeHandler {
	return marker{nodeType: models.NodeTypeStart, name: "Start", description: "Entry point of the workflow"}
}

func NewEnd() protocol.NodeHandler {
	return marker{nodeType: models.NodeTypeEnd, name: "End", description: "Marks a finished path"}
}

// Wait holds the outgoing edges until the configured duration has passed.
// The execution pauses in the meantime and holds no worker.
type Wait struct{}

func NewWait() *Wait { return &Wait{} }

func (*Wait) Type() models.NodeType { return models.NodeTypeWait }
func (*Wait) Name() string          { return "Wait" }

func (*Wait) Description() string {
	return "Pauses the execution for a duration, then continues with the next nodes"
}

func (*Wait) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration": map[string]any{
				"type":        "string",
				"description": "Go duration to wait, e.g. 30m or 72h",
				"pattern":     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
				"examples":    []string{"15m", "48h", "1h30m"},
			},
		},
		"required": []string{"duration"},
	}
}

func (*Wait) Execute(_ context.Context, input protocol.NodeInput) (protocol.Result, error) {
	params, err := protocol.Params[*models.WaitParams](input)
	if err != nil {
		return protocol.Result{}, err
	}

	duration, err := params.ParsedDuration()
	if err != nil {
		return protocol.Result{}, protocol.NewNodeActionError(input, err)
	}

	until := input.Now.Add(duration).UTC()

	return protocol.Result{
		Output:   map[string]any{"waitUntil": until.Format(time.RFC3339)},
		ResumeAt: &until,
	}, nil
}
