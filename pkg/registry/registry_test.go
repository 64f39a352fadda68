package registry

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/nodes/casestatus"
	"github.com/dukex/claimflow/pkg/nodes/letter"
	"github.com/dukex/claimflow/pkg/nodes/notify"
	"github.com/dukex/claimflow/pkg/nodes/reminder"
	"github.com/dukex/claimflow/pkg/persistence/file"
	"github.com/dukex/claimflow/pkg/protocol"
	"github.com/dukex/claimflow/pkg/submission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDefaultRegistry(t *testing.T) *Registry {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	queue := submission.NewQueue(store.SubmissionRepository(), store.CaseRepository(), nil, testLogger())

	r := NewRegistry(testLogger())
	r.RegisterDefaultNodes(Collaborators{
		Cases:     store.CaseRepository(),
		Queue:     queue,
		Letters:   letter.NewTemplateGenerator(nil),
		Notifier:  notify.NewLogNotifier(testLogger()),
		Status:    casestatus.NewRepositoryUpdater(store.CaseRepository()),
		Reminders: reminder.NewMemoryScheduler(),
	})

	return r
}

func node(t *testing.T, id string, params models.NodeParams) *models.Node {
	t.Helper()

	n, err := models.NewNode(id, params)
	require.NoError(t, err)

	return n
}

func TestRegisterDefaultNodes(t *testing.T) {
	r := newDefaultRegistry(t)

	types := make([]models.NodeType, 0)
	for _, h := range r.Handlers() {
		types = append(types, h.Type())
		assert.NotEmpty(t, h.Name())
		assert.NotEmpty(t, h.Description())
		assert.Equal(t, "object", h.Schema()["type"])
	}

	assert.ElementsMatch(t, []models.NodeType{
		models.NodeTypeStart, models.NodeTypeEnd, models.NodeTypeWait, models.NodeTypeCondition,
		models.NodeTypeFileClaim, models.NodeTypeSubmitToPortal, models.NodeTypeGenerateLetter,
		models.NodeTypeSendNotification, models.NodeTypeUpdateStatus, models.NodeTypeCreateReminder,
	}, types)

	_, err := r.Get("HTTP_REQUEST")
	require.ErrorIs(t, err, ErrNodeTypeNotRegistered)
}

func validWorkflow(t *testing.T) *models.WorkflowDefinition {
	t.Helper()

	return &models.WorkflowDefinition{
		Name: "File carrier claim",
		Nodes: []*models.Node{
			node(t, "start", &models.StartParams{}),
			node(t, "letter", &models.GenerateLetterParams{TemplateID: "claim-intent"}),
			node(t, "wait", &models.WaitParams{Duration: "48h"}),
			node(t, "file", &models.FileClaimParams{CredentialID: "cred-1"}),
			node(t, "end", &models.EndParams{}),
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "start", Target: "letter"},
			{ID: "e2", Source: "letter", Target: "wait"},
			{ID: "e3", Source: "wait", Target: "file", Condition: &models.Condition{
				Field: "case.amount", Operator: models.OperatorGreaterThan, Value: 50,
			}},
			{ID: "e4", Source: "file", Target: "end"},
		},
	}
}

func TestValidateWorkflow_Valid(t *testing.T) {
	require.NoError(t, newDefaultRegistry(t).ValidateWorkflow(validWorkflow(t)))
}

func TestValidateWorkflow_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(w *models.WorkflowDefinition)
		message string
	}{
		{
			name:    "short name",
			mutate:  func(w *models.WorkflowDefinition) { w.Name = "x" },
			message: "Name",
		},
		{
			name: "second start node",
			mutate: func(w *models.WorkflowDefinition) {
				w.Nodes = append(w.Nodes, &models.Node{ID: "orphan", Type: models.NodeTypeEnd})
			},
			message: "exactly one start node",
		},
		{
			name: "cycle",
			mutate: func(w *models.WorkflowDefinition) {
				w.Edges = append(w.Edges, &models.Edge{ID: "back", Source: "file", Target: "letter"})
			},
			message: "cycle",
		},
		{
			name: "unknown node type",
			mutate: func(w *models.WorkflowDefinition) {
				w.Nodes[1].Type = "HTTP_REQUEST"
			},
			message: "node type not registered",
		},
		{
			name: "schema violation",
			mutate: func(w *models.WorkflowDefinition) {
				w.Nodes[3].Params = json.RawMessage(`{"priority":"CRITICAL"}`)
			},
			message: "params do not match schema",
		},
		{
			name: "missing required param",
			mutate: func(w *models.WorkflowDefinition) {
				w.Nodes[1].Params = json.RawMessage(`{}`)
			},
			message: "template_id",
		},
		{
			name: "bad duration",
			mutate: func(w *models.WorkflowDefinition) {
				w.Nodes[2].Params = json.RawMessage(`{"duration":"two days"}`)
			},
			message: "node wait",
		},
		{
			name: "bad edge operator",
			mutate: func(w *models.WorkflowDefinition) {
				w.Edges[2].Condition.Operator = "between"
			},
			message: "Operator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := validWorkflow(t)
			tt.mutate(w)

			err := newDefaultRegistry(t).ValidateWorkflow(w)
			require.ErrorIs(t, err, ErrInvalidWorkflow)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestValidateWorkflow_MalformedGraphIsDistinguishable(t *testing.T) {
	w := validWorkflow(t)
	w.Edges = nil

	err := newDefaultRegistry(t).ValidateWorkflow(w)
	require.ErrorIs(t, err, models.ErrMalformedGraph)
}

type panicky struct{}

func (panicky) Type() models.NodeType  { return "PANIC" }
func (panicky) Name() string           { return "Panic" }
func (panicky) Description() string    { return "" }
func (panicky) Schema() map[string]any { return map[string]any{"type": "object"} }
func (panicky) Execute(context.Context, protocol.NodeInput) (protocol.Result, error) {
	panic("handler bug")
}

type nilOutput struct{ panicky }

func (nilOutput) Type() models.NodeType { return "NIL" }
func (nilOutput) Execute(context.Context, protocol.NodeInput) (protocol.Result, error) {
	return protocol.Result{}, nil
}

func TestExecute(t *testing.T) {
	r := NewRegistry(testLogger())
	r.RegisterNode(panicky{})
	r.RegisterNode(nilOutput{})

	_, err := r.Execute(context.Background(), protocol.NodeInput{Node: &models.Node{ID: "p", Type: "PANIC"}})

	var actionErr *protocol.NodeActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, "p", actionErr.NodeID)
	assert.Contains(t, err.Error(), "handler bug")

	_, err = r.Execute(context.Background(), protocol.NodeInput{Node: &models.Node{ID: "u", Type: "UNKNOWN"}})
	require.ErrorIs(t, err, ErrNodeTypeNotRegistered)

	result, err := r.Execute(context.Background(), protocol.NodeInput{Node: &models.Node{ID: "n", Type: "NIL"}})
	require.NoError(t, err)
	assert.NotNil(t, result.Output)
}
