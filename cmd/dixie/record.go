package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pario-ai/dixie/pkg/ledger"
	"github.com/pario-ai/dixie/pkg/models"
)

func newRecordCmd(configPath *string) *cobra.Command {
	var (
		label  string
		tokens int64
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "record <service> <prompts>",
		Short: "Record interactive usage against a service's daily quota",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || amount < 0 {
				return fmt.Errorf("invalid prompt count %q", args[1])
			}
			return withApp(*configPath, func(a *app) error {
				profile, ok := a.alloc.Profile(args[0])
				if !ok {
					return fmt.Errorf("unknown service %q", args[0])
				}
				ev := models.UsageEvent{Service: profile.Name, Amount: amount, TokenCount: tokens, Task: label}

				if force || profile.Type != models.ServicePrepaid {
					if err := a.ledger.Record(cmd.Context(), ev); err != nil {
						return err
					}
					fmt.Printf("Recorded %d prompts on %s.\n", amount, profile.Name)
					return nil
				}

				used, err := a.ledger.TryConsume(cmd.Context(), ev, profile.DailyLimit)
				if errors.Is(err, ledger.ErrLimitReached) {
					return fmt.Errorf("%s: %d of %d prompts already used today: %w", profile.Name, used, profile.DailyLimit, err)
				}
				if err != nil {
					return err
				}
				fmt.Printf("Recorded %d prompts on %s (%d of %d used today).\n", amount, profile.Name, used, profile.DailyLimit)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&label, "label", "interactive", "usage label")
	cmd.Flags().Int64Var(&tokens, "tokens", 0, "token count for the usage")
	cmd.Flags().BoolVar(&force, "force", false, "record even if it exceeds the daily limit")
	return cmd
}
