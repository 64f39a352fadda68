package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func graph(nodeIDs []string, edges ...[2]string) *WorkflowDefinition {
	w := &WorkflowDefinition{ID: "wf", Name: "test", IsActive: true}
	for _, id := range nodeIDs {
		w.Nodes = append(w.Nodes, &Node{ID: id, Type: NodeTypeEnd})
	}

	for i, e := range edges {
		w.Edges = append(w.Edges, &Edge{ID: string(rune('a' + i)), Source: e[0], Target: e[1]})
	}

	return w
}

func TestWorkflowDefinition_StartNode(t *testing.T) {
	tests := []struct {
		name      string
		workflow  *WorkflowDefinition
		expectID  string
		expectErr bool
	}{
		{
			name:     "single start",
			workflow: graph([]string{"s", "a", "b"}, [2]string{"s", "a"}, [2]string{"a", "b"}),
			expectID: "s",
		},
		{
			name:      "two roots",
			workflow:  graph([]string{"s", "t", "a"}, [2]string{"s", "a"}, [2]string{"t", "a"}),
			expectErr: true,
		},
		{
			name:      "no root",
			workflow:  graph([]string{"a", "b"}, [2]string{"a", "b"}, [2]string{"b", "a"}),
			expectErr: true,
		},
		{
			name:      "empty",
			workflow:  graph(nil),
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := tt.workflow.StartNode()
			if tt.expectErr {
				require.ErrorIs(t, err, ErrMalformedGraph)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectID, node.ID)
		})
	}
}

func TestWorkflowDefinition_ValidateGraph(t *testing.T) {
	t.Run("diamond is valid", func(t *testing.T) {
		w := graph([]string{"s", "a", "b", "j"},
			[2]string{"s", "a"}, [2]string{"s", "b"}, [2]string{"a", "j"}, [2]string{"b", "j"})
		require.NoError(t, w.ValidateGraph())
	})

	t.Run("dangling edge", func(t *testing.T) {
		w := graph([]string{"s"}, [2]string{"s", "ghost"})
		require.ErrorIs(t, w.ValidateGraph(), ErrMalformedGraph)
	})

	t.Run("duplicate node", func(t *testing.T) {
		w := graph([]string{"s", "s"})
		require.ErrorIs(t, w.ValidateGraph(), ErrMalformedGraph)
	})

	t.Run("cycle behind start", func(t *testing.T) {
		w := graph([]string{"s", "a", "b"},
			[2]string{"s", "a"}, [2]string{"a", "b"}, [2]string{"b", "a"})
		require.ErrorIs(t, w.ValidateGraph(), ErrMalformedGraph)
	})
}

func TestNode_Decode(t *testing.T) {
	node, err := NewNode("claim", &FileClaimParams{CredentialID: "7", Priority: PriorityUrgent})
	require.NoError(t, err)
	assert.Equal(t, NodeTypeFileClaim, node.Type)

	params, err := node.Decode()
	require.NoError(t, err)

	claim, ok := params.(*FileClaimParams)
	require.True(t, ok)
	assert.Equal(t, "7", claim.CredentialID)
	assert.Equal(t, PriorityUrgent, claim.Priority)

	portal := &Node{ID: "p", Type: NodeTypeSubmitToPortal}
	params, err = portal.Decode()
	require.NoError(t, err)
	assert.Equal(t, NodeTypeSubmitToPortal, params.NodeType())

	wait := &Node{ID: "w", Type: NodeTypeWait, Params: json.RawMessage(`{"duration":"48h"}`)}
	params, err = wait.Decode()
	require.NoError(t, err)

	d, err := params.(*WaitParams).ParsedDuration()
	require.NoError(t, err)
	assert.Equal(t, 48.0, d.Hours())

	_, err = (&Node{ID: "x", Type: "TELEPORT"}).Decode()
	require.Error(t, err)

	_, err = (&Node{ID: "bad", Type: NodeTypeWait, Params: json.RawMessage(`{"duration":`)}).Decode()
	require.Error(t, err)
}
