package main

import (
	"fmt"
	"os"
	"os/user"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/dixie/pkg/models"
)

func newSuggestionsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggestions",
		Short: "Review acquisition suggestions produced by background tasks",
	}

	var status string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List suggestions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(a *app) error {
				items, err := a.store.Suggestions(cmd.Context(), models.ReviewStatus(status))
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Printf("No %s suggestions.\n", status)
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTYPE\tIDENTIFIER\tIMPORTANCE\tCREATED\tREASON")
				for _, s := range items {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
						s.ID, s.ItemType, s.Identifier, s.Importance, s.CreatedAt.Local().Format("2006-01-02"), s.Reason)
				}
				return w.Flush()
			})
		},
	}
	listCmd.Flags().StringVar(&status, "status", string(models.StatusPending), "pending, approved or declined")

	cmd.AddCommand(
		listCmd,
		newDecideCmd(configPath, "approve", models.StatusApproved),
		newDecideCmd(configPath, "decline", models.StatusDeclined),
	)
	return cmd
}

func newDecideCmd(configPath *string, verb string, status models.ReviewStatus) *cobra.Command {
	var by string

	cmd := &cobra.Command{
		Use:   verb + " <id>...",
		Short: "Mark pending suggestions as " + string(status),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if by == "" {
				by = currentUser()
			}
			return withApp(*configPath, func(a *app) error {
				for _, id := range args {
					if err := a.store.DecideSuggestion(cmd.Context(), id, status, by); err != nil {
						return fmt.Errorf("%s %s: %w", verb, id, err)
					}
					fmt.Printf("%s %s\n", status, id)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "reviewer name (default: current user)")
	return cmd
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "cli"
}
