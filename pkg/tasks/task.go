// Package tasks defines autonomous background tasks and the registry the
// executor selects them from.
package tasks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pario-ai/dixie/pkg/models"
)

// Definition is the static description of a task. It is immutable while a
// cycle runs; hot reload swaps the whole task.
type Definition struct {
	Name          string             `json:"name"`
	Description   string             `json:"description"`
	Safety        models.SafetyLevel `json:"safety"`
	EstimatedCost int64              `json:"estimated_cost"`
	// MaxRunsPerDay of zero means unlimited.
	MaxRunsPerDay int `json:"max_runs_per_day"`
	// Priority orders selection; higher runs first.
	Priority int `json:"priority"`
	// MinUrgency of zero admits the task at any urgency.
	MinUrgency models.Urgency `json:"min_urgency,omitempty"`
}

// Context is handed to a task for one eligibility check or run.
type Context struct {
	Service string
	// Budget is the prompt budget still available to the cycle.
	Budget  int64
	Urgency models.Urgency
	Log     *zap.Logger
}

// Logger returns the context's logger or a no-op logger.
func (c *Context) Logger() *zap.Logger {
	if c == nil || c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

// Task is a unit of autonomous work.
//
// Execute must report the prompts it actually consumed in PromptsUsed, even
// when it returns an error; the executor charges that number as-is.
type Task interface {
	Definition() Definition
	ShouldRun(ctx context.Context, tc *Context) (bool, error)
	Execute(ctx context.Context, tc *Context) (models.TaskExecutionResult, error)
}

// ExecutionError is a task failure. It never aborts a batch.
type ExecutionError struct {
	Task        string
	PromptsUsed int64
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %s failed after %d prompts: %v", e.Task, e.PromptsUsed, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

type overridden struct {
	Task
	def Definition
}

func (o overridden) Definition() Definition { return o.def }

// WithDefinition returns t with its definition replaced by def.
func WithDefinition(t Task, def Definition) Task {
	if o, ok := t.(overridden); ok {
		t = o.Task
	}
	return overridden{Task: t, def: def}
}
