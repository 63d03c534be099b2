package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/dixie/pkg/proxy"
)

func newProxyCmd(configPath *string) *cobra.Command {
	var listen, upstream, service string

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run a metering proxy that charges interactive LLM calls to a service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(a *app) error {
				pc := a.cfg.Proxy
				if listen != "" {
					pc.Listen = listen
				}
				if upstream != "" {
					pc.Upstream = upstream
				}
				if service != "" {
					pc.Service = service
				}
				profile, ok := a.alloc.Profile(pc.Service)
				if !ok {
					return fmt.Errorf("proxy: unknown service %q", pc.Service)
				}

				srv, err := proxy.New(a.ledger, proxy.Options{
					Upstream: pc.Upstream,
					APIKey:   pc.APIKey,
					Service:  profile,
					Logger:   a.log,
				})
				if err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return srv.ListenAndServe(ctx, pc.Listen)
			})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default: proxy.listen)")
	cmd.Flags().StringVar(&upstream, "upstream", "", "provider base URL (default: proxy.upstream)")
	cmd.Flags().StringVar(&service, "service", "", "service to charge (default: proxy.service)")
	return cmd
}
