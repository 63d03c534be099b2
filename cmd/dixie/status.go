package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status [service]",
		Short: "Show today's usage, remaining quota and pressure",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(a *app) error {
				names := a.alloc.Services()
				if len(args) == 1 {
					names = args
				}
				if len(names) == 0 {
					fmt.Println("No services configured.")
					return nil
				}
				for _, name := range names {
					st, err := a.alloc.Status(cmd.Context(), name)
					if err != nil {
						return err
					}
					fmt.Println(renderStatus(st))
				}
				return nil
			})
		},
	}
}
