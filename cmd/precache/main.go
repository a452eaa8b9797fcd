package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	cmdutil "github.com/meigma/precache/cmd"
	"github.com/meigma/precache/internal/server"
)

func main() {
	// Configure ^C to terminate program
	ctx, cancel := context.WithCancel(context.Background())
	cmdutil.CatchCtrlC(cancel)

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		cmdutil.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	root := newRootCommand(out)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand(out io.Writer) *cobra.Command {
	cfg := &config{}

	cmd := &cobra.Command{
		Use:           "precache",
		Short:         "Offline cache for HTTP assets",
		Long:          "precache installs a fixed set of assets from an origin into a named cache and serves requests cache first.",
		Version:       server.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cmdutil.SetFlagsFromEnvVariables(cmd.Flags()); err != nil {
				return err
			}
			return cfg.setup()
		},
	}
	cmd.SetOut(out)
	cfg.addPersistentFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newServeCommand(cfg),
		newInstallCommand(cfg),
		newExportCommand(cfg),
		newImportCommand(cfg),
		newOriginCommand(cfg),
	)
	return cmd
}
