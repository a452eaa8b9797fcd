package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/precache/bundle"
)

func newExportCommand(cfg *config) *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "export <layout-dir>",
		Short: "Write the cache to an OCI image layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeStorage, err := cfg.newStorage()
			if err != nil {
				return err
			}
			defer closeStorage()

			desc, err := bundle.Export(cmd.Context(), s, cfg.cacheName, args[0],
				bundle.WithTag(tag),
				bundle.WithLogger(cfg.logger.Logger),
			)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %s to %s@%s\n", cfg.cacheName, args[0], desc.Digest)
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "Layout tag (default: cache name)")
	return cmd
}

func newImportCommand(cfg *config) *cobra.Command {
	var (
		tag  string
		name string
	)
	cmd := &cobra.Command{
		Use:   "import <layout-dir>",
		Short: "Load a cache from an OCI image layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeStorage, err := cfg.newStorage()
			if err != nil {
				return err
			}
			defer closeStorage()

			if tag == "" {
				tag = cfg.cacheName
			}
			imported, err := bundle.Import(cmd.Context(), s, args[0], tag,
				bundle.WithName(name),
				bundle.WithLogger(cfg.logger.Logger),
			)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s from %s\n", imported, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "Layout tag (default: cache name)")
	cmd.Flags().StringVar(&name, "as", "", "Cache name to import into (default: name recorded in the bundle)")
	return cmd
}
