package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/pario-ai/dixie/pkg/models"
	"github.com/pario-ai/dixie/pkg/tasks"
)

// declinedRetention is how long declined suggestions are kept.
const declinedRetention = 30 * 24 * time.Hour

// PurgeDeclined deletes old declined suggestions. It destroys data, so it
// is Dangerous and only runs on a direct user command.
type PurgeDeclined struct {
	deps Deps
}

// NewPurgeDeclined creates the task.
func NewPurgeDeclined(d Deps) *PurgeDeclined {
	return &PurgeDeclined{deps: d}
}

// Definition implements tasks.Task.
func (t *PurgeDeclined) Definition() tasks.Definition {
	return tasks.Definition{
		Name:        "purge_declined_suggestions",
		Description: "Delete declined suggestions older than 30 days",
		Safety:      models.SafetyDangerous,
	}
}

// ShouldRun always holds; the purge is a no-op when nothing qualifies.
func (t *PurgeDeclined) ShouldRun(context.Context, *tasks.Context) (bool, error) {
	return true, nil
}

// Execute implements tasks.Task.
func (t *PurgeDeclined) Execute(ctx context.Context, _ *tasks.Context) (models.TaskExecutionResult, error) {
	res := models.TaskExecutionResult{TaskName: "purge_declined_suggestions"}
	n, err := t.deps.Store.PurgeDeclined(ctx, t.deps.now().Add(-declinedRetention))
	if err != nil {
		res.Outcome = models.OutcomeFailed
		return res, fmt.Errorf("purge: %w", err)
	}
	res.ItemsProcessed = n
	res.Outcome = models.OutcomeSuccess
	res.Message = fmt.Sprintf("%d declined suggestions purged", n)
	return res, nil
}
