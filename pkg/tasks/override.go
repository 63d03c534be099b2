package tasks

import (
	"fmt"

	"github.com/pario-ai/dixie/pkg/config"
	"github.com/pario-ai/dixie/pkg/models"
)

// ApplyOverride adjusts t's definition from configuration. It returns a nil
// Task when the override disables it. An override may raise a task's safety
// level but never lower it.
func ApplyOverride(t Task, o config.TaskOverride) (Task, error) {
	def := t.Definition()
	if !o.IsEnabled() {
		return nil, nil
	}
	if o.Safety != "" {
		lvl, err := models.ParseSafetyLevel(o.Safety)
		if err != nil {
			return nil, &config.ConfigurationError{Field: "tasks." + def.Name + ".safety", Reason: err.Error()}
		}
		if lvl < def.Safety {
			return nil, &config.ConfigurationError{
				Field:  "tasks." + def.Name + ".safety",
				Reason: fmt.Sprintf("cannot lower %s task to %s", def.Safety, lvl),
			}
		}
		def.Safety = lvl
	}
	if o.EstimatedCost > 0 {
		def.EstimatedCost = o.EstimatedCost
	}
	if o.MaxRunsPerDay > 0 {
		def.MaxRunsPerDay = o.MaxRunsPerDay
	}
	if o.Priority != 0 {
		def.Priority = o.Priority
	}
	if def == t.Definition() {
		return t, nil
	}
	return WithDefinition(t, def), nil
}
