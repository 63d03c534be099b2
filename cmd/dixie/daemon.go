package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/dixie/pkg/daemon"
	"github.com/pario-ai/dixie/pkg/metrics"
)

func newDaemonCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the periodic scheduler and control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(a *app) error {
				if addr == "" {
					addr = a.cfg.Listen
				}
				metrics.Register()

				svc := daemon.New(daemon.Config{
					Addr:     addr,
					Interval: a.cfg.Interval,
				}, a.alloc, a.exec, a.log)

				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				if !a.exec.Enabled() {
					a.log.Warn("executor disabled; daemon will only report recommendations")
				}
				if err := svc.Run(ctx); err != nil {
					a.log.Error("daemon exited", zap.Error(err))
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: listen from config)")
	return cmd
}
