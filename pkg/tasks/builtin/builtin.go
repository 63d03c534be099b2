// Package builtin provides the stock autonomous tasks.
package builtin

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/pario-ai/dixie/pkg/config"
	"github.com/pario-ai/dixie/pkg/content"
	"github.com/pario-ai/dixie/pkg/llm"
	"github.com/pario-ai/dixie/pkg/models"
	"github.com/pario-ai/dixie/pkg/tasks"
)

// Store is the part of the content store autonomous tasks may touch. It
// cannot change a suggestion's review status.
type Store interface {
	CountUnlinkedReferences(ctx context.Context) (int, error)
	UnlinkedReferences(ctx context.Context, limit int) ([]models.Reference, error)
	UnanalyzedPapers(ctx context.Context, limit int) ([]models.Paper, error)
	AddSuggestion(ctx context.Context, s models.AcquisitionSuggestion) (models.AcquisitionSuggestion, error)
	AddArtifact(ctx context.Context, a models.AnalysisArtifact) (models.AnalysisArtifact, error)
	PurgeDeclined(ctx context.Context, cutoff time.Time) (int, error)
}

var _ Store = (*content.SQLiteStore)(nil)

// Deps are the collaborators built-in tasks run against.
type Deps struct {
	Store Store
	LLM   llm.Completer
	Now   func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// All returns every built-in task with its default definition.
func All(d Deps) []tasks.Task {
	return []tasks.Task{
		NewSuggestAcquisitions(d),
		NewAnalyzePapers(d),
		NewPurgeDeclined(d),
	}
}

// Register adds the built-in tasks to r after applying config overrides.
func Register(r *tasks.Registry, d Deps, overrides map[string]config.TaskOverride) error {
	known := make(map[string]bool)
	for _, t := range All(d) {
		name := t.Definition().Name
		known[name] = true
		o, ok := overrides[name]
		if ok {
			var err error
			t, err = tasks.ApplyOverride(t, o)
			if err != nil {
				return err
			}
			if t == nil {
				continue
			}
		}
		if err := r.Register(t); err != nil {
			return fmt.Errorf("register builtin: %w", err)
		}
	}
	for name := range overrides {
		if !known[name] {
			return &config.ConfigurationError{Field: "tasks." + name, Reason: "unknown task"}
		}
	}
	return nil
}

var firstInt = regexp.MustCompile(`\d+`)

// parseScore extracts the first integer in s, clamped to [0,10].
func parseScore(s string) (int, bool) {
	m := firstInt.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	if n > 10 {
		n = 10
	}
	return n, true
}
