package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newTasksCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List registered background tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(a *app) error {
				runs, err := a.ledger.RunsSince(cmd.Context(), a.ledger.Today(a.cfg.Executor.Service))
				if err != nil {
					return err
				}
				ceiling := a.cfg.MaxSafety()

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tSAFETY\tCOST\tRUNS TODAY\tPRIORITY\tAUTONOMOUS\tDESCRIPTION")
				for _, d := range a.registry.List() {
					limit := "-"
					if d.MaxRunsPerDay > 0 {
						limit = fmt.Sprint(d.MaxRunsPerDay)
					}
					auto := "no"
					if ceiling.Admits(d.Safety) {
						auto = "yes"
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%d/%s\t%d\t%s\t%s\n",
						d.Name, d.Safety, d.EstimatedCost, runs[d.Name], limit, d.Priority, auto, d.Description)
				}
				return w.Flush()
			})
		},
	}
}
