package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInstallCommand(cfg *config) *cobra.Command {
	var origin string
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Populate the cache from the origin and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeStorage, err := cfg.newStorage()
			if err != nil {
				return err
			}
			defer closeStorage()

			w, err := cfg.newWorker(s, origin, nil)
			if err != nil {
				return err
			}
			if err := cfg.install(cmd.Context(), w); err != nil {
				return err
			}
			m := w.Manifest()
			fmt.Fprintf(cmd.OutOrStdout(), "installed %d assets into %s\n", len(m.Assets), m.CacheName)
			return nil
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "Origin base URL")
	return cmd
}
