package builtin

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pario-ai/dixie/pkg/llm"
	"github.com/pario-ai/dixie/pkg/models"
	"github.com/pario-ai/dixie/pkg/tasks"
)

const analyzeSystem = `Summarise the paper's contribution, method and limitations in under 150 words.`

// AnalyzePapers writes pending summary artifacts for papers that have none.
type AnalyzePapers struct {
	deps Deps
}

// NewAnalyzePapers creates the task.
func NewAnalyzePapers(d Deps) *AnalyzePapers {
	return &AnalyzePapers{deps: d}
}

// Definition implements tasks.Task.
func (t *AnalyzePapers) Definition() tasks.Definition {
	return tasks.Definition{
		Name:          "analyze_papers",
		Description:   "Summarise papers that have not been analysed yet",
		Safety:        models.SafetyModerate,
		EstimatedCost: 40,
		MaxRunsPerDay: 2,
		Priority:      10,
		MinUrgency:    models.UrgencyModerate,
	}
}

// ShouldRun holds when any paper lacks an analysis.
func (t *AnalyzePapers) ShouldRun(ctx context.Context, _ *tasks.Context) (bool, error) {
	papers, err := t.deps.Store.UnanalyzedPapers(ctx, 1)
	if err != nil {
		return false, err
	}
	return len(papers) > 0, nil
}

// Execute implements tasks.Task.
func (t *AnalyzePapers) Execute(ctx context.Context, tc *tasks.Context) (models.TaskExecutionResult, error) {
	log := tc.Logger().With(zap.String("task", "analyze_papers"))
	res := models.TaskExecutionResult{TaskName: "analyze_papers"}

	limit := t.Definition().EstimatedCost
	if tc != nil && tc.Budget > 0 && tc.Budget < limit {
		limit = tc.Budget
	}
	papers, err := t.deps.Store.UnanalyzedPapers(ctx, int(limit))
	if err != nil {
		res.Outcome = models.OutcomeFailed
		return res, fmt.Errorf("load papers: %w", err)
	}

	var failures int
	for _, p := range papers {
		if err := ctx.Err(); err != nil {
			break
		}
		res.ItemsProcessed++
		res.PromptsUsed++
		out, err := t.deps.LLM.Complete(ctx, llm.Request{
			System:    analyzeSystem,
			Prompt:    fmt.Sprintf("Title: %s\n\nAbstract: %s", p.Title, p.Abstract),
			MaxTokens: 300,
		})
		if err != nil {
			failures++
			log.Debug("analysis failed", zap.String("paper", p.ID), zap.Error(err))
			continue
		}
		if _, err := t.deps.Store.AddArtifact(ctx, models.AnalysisArtifact{
			Subject: p.ID,
			Kind:    "summary",
			Body:    out.Text,
			Source:  "autonomous:analyze_papers",
		}); err != nil {
			res.Outcome = models.OutcomeFailed
			return res, fmt.Errorf("store artifact: %w", err)
		}
		res.ItemsCreated++
	}

	res.Outcome, res.Message = summarize(res.ItemsProcessed, failures, res.ItemsCreated, "artifacts")
	if res.Outcome == models.OutcomeFailed {
		return res, errors.New(res.Message)
	}
	return res, nil
}
