package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pario-ai/dixie/pkg/executor"
	"github.com/pario-ai/dixie/pkg/models"
	"github.com/pario-ai/dixie/pkg/tasks"
)

type serviceArgs struct {
	Service string `json:"service"`
}

type historyArgs struct {
	Days int `json:"days"`
}

type runArgs struct {
	Task    string `json:"task"`
	Service string `json:"service"`
}

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"dixie_status":    handleStatus,
	"dixie_recommend": handleRecommend,
	"dixie_history":   handleHistory,
	"dixie_tasks":     handleTasks,
	"dixie_run":       handleRun,
}

var readOnly = &ToolAnnotations{ReadOnlyHint: true}

var allTools = []ToolDefinition{
	{
		Name:        "dixie_status",
		Description: "Show today's quota usage, remaining prompts, hours left and pressure per service.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"service": map[string]any{
					"type":        "string",
					"description": "Service name (optional, omit for all services)",
				},
			},
		},
		Annotations: readOnly,
	},
	{
		Name:        "dixie_recommend",
		Description: "Show whether idle quota should be spent on background work right now, and how much.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Annotations: readOnly,
	},
	{
		Name:        "dixie_history",
		Description: "Show daily prompt usage and recent background task executions.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"days": map[string]any{
					"type":        "integer",
					"description": "Number of days to include (optional, default 7)",
				},
			},
		},
		Annotations: readOnly,
	},
	{
		Name:        "dixie_tasks",
		Description: "List registered background tasks with safety level, cost estimate and limits.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Annotations: readOnly,
	},
	{
		Name:        "dixie_run",
		Description: "Run one safe or moderate background task now. Dangerous tasks must be run from the CLI.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"task"},
			"properties": map[string]any{
				"task": map[string]any{
					"type":        "string",
					"description": "Task name as listed by dixie_tasks",
				},
				"service": map[string]any{
					"type":        "string",
					"description": "Service to charge (optional, defaults to the executor service)",
				},
			},
		},
		Annotations: &ToolAnnotations{},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func handleStatus(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args serviceArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	names := s.deps.Budget.Services()
	if args.Service != "" {
		names = []string{args.Service}
	}
	statuses := make([]models.BudgetStatus, 0, len(names))
	for _, name := range names {
		st, err := s.deps.Budget.Status(ctx, name)
		if err != nil {
			return errorResult("Error fetching status: " + err.Error())
		}
		statuses = append(statuses, st)
	}
	return textResult(formatStatus(statuses))
}

func handleRecommend(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	rec, err := s.deps.Budget.Recommend(ctx)
	if err != nil {
		return errorResult("Error computing recommendation: " + err.Error())
	}
	return textResult(formatRecommendation(rec))
}

func handleHistory(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args historyArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if args.Days <= 0 {
		args.Days = 7
	}
	usage, err := s.deps.History.Summary(ctx, args.Days)
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	since := time.Now().AddDate(0, 0, -args.Days)
	runs, err := s.deps.History.Executions(ctx, since)
	if err != nil {
		return errorResult("Error fetching executions: " + err.Error())
	}
	return textResult(formatUsage(usage) + "\n" + formatExecutions(runs))
}

func handleTasks(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatTasks(s.deps.Catalog.List()))
}

func handleRun(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.deps.Runner == nil {
		return textResult("Task execution is not available in this mode.")
	}
	var args runArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if args.Task == "" {
		return errorResult("task is required")
	}
	res, err := s.deps.Runner.RunTask(ctx, args.Task, executor.RunOptions{Service: args.Service})
	var execErr *tasks.ExecutionError
	switch {
	case errors.Is(err, executor.ErrDangerousTask):
		return errorResult("Task " + args.Task + " is dangerous and can only be run from the CLI with --allow-dangerous.")
	case errors.As(err, &execErr):
		return errorResult(formatResult(res) + "\nError: " + execErr.Error())
	case err != nil:
		return errorResult("Error running task: " + err.Error())
	}
	return textResult(formatResult(res))
}
