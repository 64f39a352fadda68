package workflow

import (
	"errors"

	"github.com/dukex/claimflow/pkg/models"
)

// IsInvocationError reports whether err rejected the execution before it
// was created, so retrying the same request cannot succeed.
func IsInvocationError(err error) bool {
	return errors.Is(err, models.ErrWorkflowInactive) || errors.Is(err, models.ErrMalformedGraph)
}
