package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/dixie/pkg/config"
	"github.com/pario-ai/dixie/pkg/executor"
	"github.com/pario-ai/dixie/pkg/models"
	"github.com/pario-ai/dixie/pkg/tasks"
)

func newRunCmd(configPath *string) *cobra.Command {
	var (
		allowDangerous bool
		service        string
	)

	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run one task now, bypassing the scheduler",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(a *app) error {
				res, err := a.exec.RunTask(cmd.Context(), args[0], executor.RunOptions{
					Service:        service,
					AllowDangerous: allowDangerous,
				})
				var execErr *tasks.ExecutionError
				if err != nil && !errors.As(err, &execErr) {
					return err
				}
				printResults([]models.TaskExecutionResult{res})
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&allowDangerous, "allow-dangerous", false, "permit a task classified as dangerous")
	cmd.Flags().StringVar(&service, "service", "", "service to charge (default: executor.service)")
	return cmd
}

func newStopCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask a running daemon to stop its current cycle after the active task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return err
				}
				addr = cfg.Listen
			}
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Post("http://"+addr+"/v1/stop", "application/json", nil)
			if err != nil {
				return fmt.Errorf("contact daemon: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()

			var out map[string]bool
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			if out["stopped"] {
				fmt.Println("Stop requested; the cycle ends after the current task.")
			} else {
				fmt.Println("No cycle is running.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "daemon address (default: listen from config)")
	return cmd
}

func printResults(results []models.TaskExecutionResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tRESULT\tPROMPTS\tPROCESSED\tCREATED\tMESSAGE")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			r.TaskName, r.Outcome, r.PromptsUsed, r.ItemsProcessed, r.ItemsCreated, r.Message)
	}
	_ = w.Flush()
}

func printCycle(rep *executor.CycleReport) {
	fmt.Printf("Cycle %s on %s: budget %d, used %d\n", rep.ID, rep.Service, rep.Budget, rep.Used)
	if len(rep.Results) > 0 {
		printResults(rep.Results)
	}
	for name, skip := range rep.Skipped {
		fmt.Printf("  skipped %s: %s %s\n", name, skip.Reason, skip.Detail)
	}
	fmt.Println(rep.Summary())
}
