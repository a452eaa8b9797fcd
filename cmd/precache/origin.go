package main

import (
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/meigma/precache/internal/distribution"
	"github.com/meigma/precache/internal/server"
)

func newOriginCommand(cfg *config) *cobra.Command {
	var (
		address        string
		requestLogging bool
	)
	cmd := &cobra.Command{
		Use:   "origin",
		Short: "Serve the amount distribution application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := server.New(cfg.logger.Logger, server.Config{
				EnableRequestLogging: requestLogging,
				Handlers: []server.Handlers{
					&distribution.Handlers{Logger: cfg.logger.Logger, Modified: time.Now()},
				},
			})
			ln, err := net.Listen("tcp", address)
			if err != nil {
				return err
			}
			return srv.Start(cmd.Context(), ln)
		},
	}
	cmd.Flags().StringVar(&address, "address", ":5000", "Listening address")
	cmd.Flags().BoolVar(&requestLogging, "log-http-requests", false, "Log every HTTP request")
	return cmd
}
