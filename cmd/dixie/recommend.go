package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRecommendCmd(configPath *string) *cobra.Command {
	var execute bool

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Show the allocator's current recommendation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(a *app) error {
				rec, err := a.alloc.Recommend(cmd.Context())
				if err != nil {
					return err
				}
				if !rec.Actionable() {
					fmt.Printf("Hold: %s\n", rec.Reason)
					return nil
				}
				fmt.Printf("Allocate %s prompts of %s (%s urgency, pressure %.2f)\n",
					formatNumber(rec.Amount), rec.Service, rec.Urgency, rec.Pressure)
				fmt.Printf("  %s\n", rec.Reason)
				if !execute {
					return nil
				}

				rep, err := a.exec.ProcessRecommendation(cmd.Context(), rec)
				if err != nil {
					return err
				}
				if rep == nil {
					if !a.exec.Enabled() {
						fmt.Println("Executor is disabled; set executor.enabled to act on recommendations.")
					} else {
						fmt.Println("Nothing executed.")
					}
					return nil
				}
				printCycle(rep)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&execute, "execute", false, "act on the recommendation now")
	return cmd
}
