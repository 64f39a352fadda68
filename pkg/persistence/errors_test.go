package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		workflowErr := persistence.NewWorkflowError("GetByID", "workflow-123", persistence.ErrWorkflowNotFound)
		submissionErr := persistence.NewSubmissionError("Update", "sub-1", persistence.ErrStatusConflict)

		assert.True(t, persistence.IsWorkflowNotFound(workflowErr))
		assert.True(t, persistence.IsNotFound(workflowErr))
		assert.True(t, persistence.IsStatusConflict(submissionErr))
		assert.False(t, persistence.IsNotFound(submissionErr))

		assert.True(t, errors.Is(workflowErr, persistence.ErrWorkflowNotFound))
		assert.True(t, errors.Is(fmt.Errorf("wrapped: %w", submissionErr), persistence.ErrStatusConflict))
	})

	t.Run("entity error contains context", func(t *testing.T) {
		err := persistence.NewExecutionError("CompareAndSwap", "exec-123", persistence.ErrExecutionNotFound)

		assert.Contains(t, err.Error(), "CompareAndSwap")
		assert.Contains(t, err.Error(), "execution exec-123")
		assert.Contains(t, err.Error(), "execution not found")
	})

	t.Run("entity error without id", func(t *testing.T) {
		err := &persistence.EntityError{Op: "ClaimNext", Entity: "submission", Err: persistence.ErrNoSubmissionDue}

		assert.Equal(t, "ClaimNext operation failed for submission: no submission due", err.Error())
	})
}
