package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/dixie/pkg/models"
)

// importFile is the layout accepted by `dixie import`.
type importFile struct {
	References []models.Reference `yaml:"references"`
	Papers     []models.Paper     `yaml:"papers"`
}

func newImportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Load references and papers for background tasks to work on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read import file: %w", err)
			}
			var in importFile
			if err := yaml.Unmarshal(data, &in); err != nil {
				return fmt.Errorf("parse import file: %w", err)
			}
			return withApp(*configPath, func(a *app) error {
				ctx := cmd.Context()
				for _, r := range in.References {
					if r.Identifier == "" {
						return fmt.Errorf("reference %q has no identifier", r.ID)
					}
					if err := a.store.AddReference(ctx, r); err != nil {
						return err
					}
				}
				for _, p := range in.Papers {
					if p.Title == "" {
						return fmt.Errorf("paper %q has no title", p.ID)
					}
					if err := a.store.AddPaper(ctx, p); err != nil {
						return err
					}
				}
				fmt.Printf("Imported %d references and %d papers.\n", len(in.References), len(in.Papers))
				return nil
			})
		},
	}
}
