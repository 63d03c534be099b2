package mcp

import (
	"fmt"
	"strings"

	"github.com/pario-ai/dixie/pkg/models"
	"github.com/pario-ai/dixie/pkg/tasks"
)

func formatStatus(statuses []models.BudgetStatus) string {
	if len(statuses) == 0 {
		return "No services configured."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %10s %10s %10s %8s %8s\n",
		"Service", "Used", "Limit", "Remaining", "Hours", "Pressure")
	b.WriteString(strings.Repeat("-", 67) + "\n")
	for _, s := range statuses {
		fmt.Fprintf(&b, "%-16s %10d %10d %10d %8.1f %8.2f\n",
			s.Service, s.Used, s.Limit, s.Remaining, s.HoursRemaining, s.Pressure)
	}
	return b.String()
}

func formatRecommendation(rec models.Recommendation) string {
	if !rec.Actionable() {
		return "Hold: " + rec.Reason
	}
	return fmt.Sprintf("Allocate %d prompts of %s\n"+
		"  Urgency:  %s\n"+
		"  Pressure: %.2f\n"+
		"  Reason:   %s\n",
		rec.Amount, rec.Service, rec.Urgency, rec.Pressure, rec.Reason)
}

func formatUsage(rows []models.UsageSummary) string {
	if len(rows) == 0 {
		return "No usage recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %-16s %8s %10s %10s\n",
		"Date", "Service", "Events", "Prompts", "Autonomous")
	b.WriteString(strings.Repeat("-", 58) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-10s %-16s %8d %10d %10d\n",
			r.Date, r.Service, r.Events, r.Prompts, r.Autonomous)
	}
	return b.String()
}

func formatExecutions(runs []models.TaskExecutionResult) string {
	if len(runs) == 0 {
		return "No task executions."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %-28s %-8s %8s %8s\n",
		"Time", "Task", "Result", "Prompts", "Created")
	b.WriteString(strings.Repeat("-", 72) + "\n")
	for _, r := range runs {
		fmt.Fprintf(&b, "%-16s %-28s %-8s %8d %8d\n",
			r.ExecutedAt.Local().Format("2006-01-02 15:04"), r.TaskName, r.Outcome, r.PromptsUsed, r.ItemsCreated)
	}
	return b.String()
}

func formatTasks(defs []tasks.Definition) string {
	if len(defs) == 0 {
		return "No tasks registered."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-28s %-10s %6s %8s %8s\n",
		"Task", "Safety", "Cost", "Runs/day", "Priority")
	b.WriteString(strings.Repeat("-", 64) + "\n")
	for _, d := range defs {
		runs := "-"
		if d.MaxRunsPerDay > 0 {
			runs = fmt.Sprint(d.MaxRunsPerDay)
		}
		fmt.Fprintf(&b, "%-28s %-10s %6d %8s %8d\n",
			d.Name, d.Safety, d.EstimatedCost, runs, d.Priority)
	}
	return b.String()
}

func formatResult(res models.TaskExecutionResult) string {
	s := fmt.Sprintf("%s: %s (%d prompts, %d processed, %d created)",
		res.TaskName, res.Outcome, res.PromptsUsed, res.ItemsProcessed, res.ItemsCreated)
	if res.Message != "" {
		s += "\n" + res.Message
	}
	return s
}
