package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/pario-ai/dixie/pkg/models"
)

var (
	// ErrTaskNotFound is returned for an unknown task name.
	ErrTaskNotFound = errors.New("task not found")
	// ErrDuplicateTask is returned when registering a name twice.
	ErrDuplicateTask = errors.New("task already registered")
)

// Registry holds tasks in indexed slots. Selection works on a snapshot of
// slot pointers, so Replace and Unregister only affect later selections.
type Registry struct {
	mu    sync.RWMutex
	slots []Task
	index map[string]int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

func validate(def Definition) error {
	if def.Name == "" {
		return errors.New("task name is required")
	}
	switch def.Safety {
	case models.SafetySafe, models.SafetyModerate, models.SafetyDangerous:
	default:
		return fmt.Errorf("task %s: invalid safety level %d", def.Name, int(def.Safety))
	}
	if def.EstimatedCost < 0 {
		return fmt.Errorf("task %s: negative estimated cost", def.Name)
	}
	return nil
}

// Register adds a task.
func (r *Registry) Register(t Task) error {
	def := t.Definition()
	if err := validate(def); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[def.Name]; ok {
		return fmt.Errorf("register %s: %w", def.Name, ErrDuplicateTask)
	}
	r.index[def.Name] = len(r.slots)
	r.slots = append(r.slots, t)
	return nil
}

// Replace swaps the task registered under the same name.
func (r *Registry) Replace(t Task) error {
	def := t.Definition()
	if err := validate(def); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[def.Name]
	if !ok {
		return fmt.Errorf("replace %s: %w", def.Name, ErrTaskNotFound)
	}
	r.slots[i] = t
	return nil
}

// Unregister removes a task. Its slot is left empty.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[name]
	if !ok {
		return fmt.Errorf("unregister %s: %w", name, ErrTaskNotFound)
	}
	r.slots[i] = nil
	delete(r.index, name)
	return nil
}

// Get returns a task by name.
func (r *Registry) Get(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.slots[i], true
}

// List returns task definitions in selection order.
func (r *Registry) List() []Definition {
	snap := r.snapshot()
	defs := make([]Definition, len(snap))
	for i, t := range snap {
		defs[i] = t.Definition()
	}
	return defs
}

// snapshot copies live slots ordered by priority, then registration.
func (r *Registry) snapshot() []Task {
	r.mu.RLock()
	out := make([]Task, 0, len(r.index))
	for _, t := range r.slots {
		if t != nil {
			out = append(out, t)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Definition().Priority > out[j].Definition().Priority
	})
	return out
}

// SkipReasonCode enumerates why a task was left out of a selection.
type SkipReasonCode string

const (
	SkipReasonSafety      SkipReasonCode = "safety"
	SkipReasonMaxRuns     SkipReasonCode = "max-runs"
	SkipReasonUrgency     SkipReasonCode = "urgency"
	SkipReasonBudget      SkipReasonCode = "budget"
	SkipReasonIneligible  SkipReasonCode = "ineligible"
	SkipReasonCheckFailed SkipReasonCode = "eligibility-error"
)

// SkipReason explains why a task was excluded.
type SkipReason struct {
	Reason SkipReasonCode `json:"reason"`
	Detail string         `json:"detail,omitempty"`
}

// SelectRequest carries the constraints for one selection.
type SelectRequest struct {
	Budget    int64
	Urgency   models.Urgency
	MaxSafety models.SafetyLevel
	// RunsToday maps task names to runs already made today.
	RunsToday map[string]int
	Context   *Context
}

// Selection is the ordered batch of admitted tasks.
type Selection struct {
	Tasks   []Task
	Total   int64
	Skipped map[string]SkipReason
	// Deferred lists, in priority order, tasks left out only for lack of budget.
	Deferred []string
}

func (s *Selection) skip(name string, code SkipReasonCode, detail string) {
	if s.Skipped == nil {
		s.Skipped = make(map[string]SkipReason)
	}
	s.Skipped[name] = SkipReason{Reason: code, Detail: detail}
}

// autonomousCeiling clamps a requested ceiling so that Dangerous can never
// be selected.
func autonomousCeiling(requested models.SafetyLevel) models.SafetyLevel {
	switch requested {
	case models.SafetySafe:
		return models.SafetySafe
	case models.SafetyModerate, models.SafetyDangerous:
		return models.SafetyModerate
	}
	return 0
}

// Select greedily admits tasks in priority order while the running total of
// estimated cost stays within the budget. A task that does not fit is
// skipped whole and later, cheaper tasks are still considered.
func (r *Registry) Select(ctx context.Context, req SelectRequest) Selection {
	ceiling := autonomousCeiling(req.MaxSafety)
	tc := req.Context
	if tc == nil {
		tc = &Context{Budget: req.Budget, Urgency: req.Urgency}
	}

	var sel Selection
	for _, t := range r.snapshot() {
		def := t.Definition()
		if !ceiling.Admits(def.Safety) {
			sel.skip(def.Name, SkipReasonSafety, fmt.Sprintf("%s exceeds %s", def.Safety, ceiling))
			continue
		}
		if def.MaxRunsPerDay > 0 && req.RunsToday[def.Name] >= def.MaxRunsPerDay {
			sel.skip(def.Name, SkipReasonMaxRuns, fmt.Sprintf("%d runs today", req.RunsToday[def.Name]))
			continue
		}
		if def.MinUrgency > 0 && req.Urgency < def.MinUrgency {
			sel.skip(def.Name, SkipReasonUrgency, fmt.Sprintf("needs %s urgency", def.MinUrgency))
			continue
		}
		if sel.Total+def.EstimatedCost > req.Budget {
			sel.skip(def.Name, SkipReasonBudget, fmt.Sprintf("cost %d exceeds remaining %d", def.EstimatedCost, req.Budget-sel.Total))
			sel.Deferred = append(sel.Deferred, def.Name)
			continue
		}
		ok, err := t.ShouldRun(ctx, tc)
		if err != nil {
			tc.Logger().Warn("eligibility check failed", zap.String("task", def.Name), zap.Error(err))
			sel.skip(def.Name, SkipReasonCheckFailed, err.Error())
			continue
		}
		if !ok {
			sel.skip(def.Name, SkipReasonIneligible, "")
			continue
		}
		sel.Tasks = append(sel.Tasks, t)
		sel.Total += def.EstimatedCost
	}
	return sel
}
