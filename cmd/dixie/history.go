package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(configPath *string) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show daily usage and recent task executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(a *app) error {
				ctx := cmd.Context()
				rows, err := a.ledger.Summary(ctx, days)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "DATE\tSERVICE\tEVENTS\tPROMPTS\tAUTONOMOUS")
				for _, r := range rows {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
						r.Date, r.Service, r.Events, formatNumber(r.Prompts), formatNumber(r.Autonomous))
				}
				if err := w.Flush(); err != nil {
					return err
				}

				runs, err := a.ledger.Executions(ctx, time.Now().AddDate(0, 0, -days))
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Println("\nNo task executions.")
					return nil
				}
				fmt.Println()
				w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tTASK\tRESULT\tPROMPTS\tCREATED")
				for _, r := range runs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
						r.ExecutedAt.Local().Format("2006-01-02 15:04"), r.TaskName, r.Outcome, r.PromptsUsed, r.ItemsCreated)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "number of days to show")
	return cmd
}
