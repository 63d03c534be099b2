package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pario-ai/dixie/pkg/mcp"
)

func newMCPCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve dixie tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath, os.Stderr)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			srv := mcp.New(mcp.Deps{
				Budget:  a.alloc,
				History: a.ledger,
				Catalog: a.registry,
				Runner:  a.exec,
			}, version, a.log)
			return srv.Run(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}
