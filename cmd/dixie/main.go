package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "dixie",
		Short:         "Dixie: budget-aware scheduler for idle LLM quota",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "dixie.yaml", "path to config file (.yaml or .toml)")

	root.AddCommand(
		newStatusCmd(&configPath),
		newRecommendCmd(&configPath),
		newRunCmd(&configPath),
		newStopCmd(&configPath),
		newDaemonCmd(&configPath),
		newTasksCmd(&configPath),
		newHistoryCmd(&configPath),
		newSuggestionsCmd(&configPath),
		newMCPCmd(&configPath),
		newRecordCmd(&configPath),
		newImportCmd(&configPath),
		newProxyCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
