package executor

import (
	"fmt"
	"time"

	"github.com/pario-ai/dixie/pkg/models"
	"github.com/pario-ai/dixie/pkg/tasks"
)

// CycleReport aggregates one executor cycle.
type CycleReport struct {
	ID      string         `json:"id"`
	Service string         `json:"service"`
	Budget  int64          `json:"budget"`
	Urgency models.Urgency `json:"urgency"`
	// Used is the sum of prompts reported by executed tasks.
	Used     int64                        `json:"used"`
	Results  []models.TaskExecutionResult `json:"results"`
	Deferred []string                     `json:"deferred,omitempty"`
	Skipped  map[string]tasks.SkipReason  `json:"skipped,omitempty"`

	Stopped      bool `json:"stopped,omitempty"`
	Overrun      bool `json:"overrun,omitempty"`
	LimitReached bool `json:"limit_reached,omitempty"`
	CapReached   bool `json:"cap_reached,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

// Completed counts tasks that did not fail.
func (r *CycleReport) Completed() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome != models.OutcomeFailed {
			n++
		}
	}
	return n
}

// Failed counts failed tasks.
func (r *CycleReport) Failed() int {
	return len(r.Results) - r.Completed()
}

// Summary renders partial counts, e.g. "3 of 5 tasks completed, 2 failed".
// Deferred tasks count toward the total.
func (r *CycleReport) Summary() string {
	total := len(r.Results) + len(r.Deferred)
	s := fmt.Sprintf("%d of %d tasks completed, %d failed", r.Completed(), total, r.Failed())
	if len(r.Deferred) > 0 {
		s += fmt.Sprintf(", %d deferred", len(r.Deferred))
	}
	switch {
	case r.Error != "":
		s += " (halted: " + r.Error + ")"
	case r.Overrun:
		s += " (budget overrun)"
	case r.Stopped:
		s += " (stopped)"
	}
	return s
}

func (r *CycleReport) deferRest(ts []tasks.Task) {
	for _, t := range ts {
		r.Deferred = append(r.Deferred, t.Definition().Name)
	}
}
