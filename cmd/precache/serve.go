package main

import (
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/meigma/precache/internal/server"
)

func newServeCommand(cfg *config) *cobra.Command {
	var (
		origin         string
		address        string
		requestLogging bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Install the cache and serve requests cache first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, closeStorage, err := cfg.newStorage()
			if err != nil {
				return err
			}
			defer closeStorage()

			reg := prometheus.NewRegistry()
			w, err := cfg.newWorker(s, origin, reg)
			if err != nil {
				return err
			}
			if err := cfg.install(ctx, w); err != nil {
				return err
			}

			srv := server.New(cfg.logger.Logger, server.Config{
				EnableRequestLogging: requestLogging,
				Gatherer:             reg,
				Fallback:             w,
			})
			ln, err := net.Listen("tcp", address)
			if err != nil {
				return err
			}
			return srv.Start(ctx, ln)
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "Origin base URL fetched on install and on misses")
	cmd.Flags().StringVar(&address, "address", DefaultAddress, "Listening address")
	cmd.Flags().BoolVar(&requestLogging, "log-http-requests", false, "Log every HTTP request")
	return cmd
}
