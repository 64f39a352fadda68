package casestatus

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/dukex/claimflow/pkg/persistence/file"
	"github.com/dukex/claimflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_UpdatesCase(t *testing.T) {
	ctx := context.Background()
	cases := file.NewPersistence(t.TempDir()).CaseRepository()
	require.NoError(t, cases.Save(ctx, &models.Case{ID: "42", Target: "usps", Status: models.CaseStatusOpen}))

	n := New(NewRepositoryUpdater(cases), slog.New(slog.NewTextHandler(io.Discard, nil)))

	result, err := n.Execute(ctx, protocol.NodeInput{
		Node:    &models.Node{ID: "status", Type: models.NodeTypeUpdateStatus},
		Params:  &models.UpdateStatusParams{Status: "filed"},
		Context: map[string]any{"caseId": 42.0},
	})
	require.NoError(t, err)
	assert.Equal(t, "FILED", result.Output["caseStatus"])

	subject, err := cases.GetByID(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "FILED", subject.Status)
	assert.Equal(t, "usps", subject.Target)
}

func TestNode_Failures(t *testing.T) {
	cases := file.NewPersistence(t.TempDir()).CaseRepository()
	n := New(NewRepositoryUpdater(cases), slog.New(slog.NewTextHandler(io.Discard, nil)))

	input := protocol.NodeInput{
		Node:    &models.Node{ID: "status", Type: models.NodeTypeUpdateStatus},
		Params:  &models.UpdateStatusParams{Status: "FILED"},
		Context: map[string]any{},
	}

	_, err := n.Execute(context.Background(), input)
	require.ErrorIs(t, err, protocol.ErrMissingCaseID)

	input.Context["caseId"] = "missing"
	_, err = n.Execute(context.Background(), input)
	require.ErrorIs(t, err, persistence.ErrCaseNotFound)
}
