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

const (
	// minUnlinkedReferences is the backlog needed before suggesting is worthwhile.
	minUnlinkedReferences = 10
	// minImportance is the score at which a reference becomes a suggestion.
	minImportance = 6
)

const suggestSystem = `You rate how important it is for a research library to hold a cited work.
Answer with a single integer from 0 (irrelevant) to 10 (essential), then one short sentence.`

// SuggestAcquisitions rates unlinked references and files pending
// acquisition suggestions for the important ones. One prompt per reference.
type SuggestAcquisitions struct {
	deps Deps
}

// NewSuggestAcquisitions creates the task.
func NewSuggestAcquisitions(d Deps) *SuggestAcquisitions {
	return &SuggestAcquisitions{deps: d}
}

// Definition implements tasks.Task.
func (t *SuggestAcquisitions) Definition() tasks.Definition {
	return tasks.Definition{
		Name:          "suggest_acquisitions",
		Description:   "Rate unlinked references and suggest acquiring important ones",
		Safety:        models.SafetySafe,
		EstimatedCost: 25,
		MaxRunsPerDay: 3,
		Priority:      20,
	}
}

// ShouldRun holds once enough unlinked references have accumulated.
func (t *SuggestAcquisitions) ShouldRun(ctx context.Context, _ *tasks.Context) (bool, error) {
	n, err := t.deps.Store.CountUnlinkedReferences(ctx)
	if err != nil {
		return false, err
	}
	return n >= minUnlinkedReferences, nil
}

// Execute implements tasks.Task.
func (t *SuggestAcquisitions) Execute(ctx context.Context, tc *tasks.Context) (models.TaskExecutionResult, error) {
	log := tc.Logger().With(zap.String("task", "suggest_acquisitions"))
	res := models.TaskExecutionResult{TaskName: "suggest_acquisitions"}

	limit := t.Definition().EstimatedCost
	if tc != nil && tc.Budget > 0 && tc.Budget < limit {
		limit = tc.Budget
	}
	refs, err := t.deps.Store.UnlinkedReferences(ctx, int(limit))
	if err != nil {
		res.Outcome = models.OutcomeFailed
		return res, fmt.Errorf("load references: %w", err)
	}

	var failures int
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			break
		}
		res.ItemsProcessed++
		res.PromptsUsed++
		out, err := t.deps.LLM.Complete(ctx, llm.Request{
			System:    suggestSystem,
			Prompt:    fmt.Sprintf("%s %q cited in: %s", ref.ItemType, ref.Identifier, ref.Context),
			MaxTokens: 64,
		})
		if err != nil {
			failures++
			log.Debug("rating failed", zap.String("reference", ref.Identifier), zap.Error(err))
			continue
		}
		score, ok := parseScore(out.Text)
		if !ok {
			failures++
			continue
		}
		if score < minImportance {
			continue
		}
		if _, err := t.deps.Store.AddSuggestion(ctx, models.AcquisitionSuggestion{
			ItemType:   ref.ItemType,
			Identifier: ref.Identifier,
			Reason:     out.Text,
			Importance: score,
			Source:     "autonomous:suggest_acquisitions",
		}); err != nil {
			res.Outcome = models.OutcomeFailed
			return res, fmt.Errorf("store suggestion: %w", err)
		}
		res.ItemsCreated++
	}

	res.Outcome, res.Message = summarize(res.ItemsProcessed, failures, res.ItemsCreated, "suggestions")
	if res.Outcome == models.OutcomeFailed {
		return res, errors.New(res.Message)
	}
	return res, nil
}

func summarize(processed, failures, created int, noun string) (models.Outcome, string) {
	msg := fmt.Sprintf("%d processed, %d %s created, %d failed", processed, created, noun, failures)
	switch {
	case processed > 0 && failures == processed:
		return models.OutcomeFailed, msg
	case failures > 0:
		return models.OutcomePartial, msg
	}
	return models.OutcomeSuccess, msg
}
