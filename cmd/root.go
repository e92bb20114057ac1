package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/recipebox/cmd/commands/serve"
	"github.com/jonwraymond/recipebox/cmd/commands/version"
)

// rootCmd represents the base command when called without any subcommands.
func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipebox",
		Short: "Recipe API server with a response cache",
		Long: `recipebox serves the recipe API: accounts, recipes and saved recipes,
backed by SQLite. Read endpoints are answered from an in-memory response
cache that writes invalidate by tag.

Quick start:
  recipebox serve                        # listen on :3001 with ./recipebox.db
  RECIPEBOX_JWT_SECRET=... recipebox serve --env production
  recipebox version`,
		SilenceUsage: true,
	}

	cmd.AddCommand(serve.NewCommand())
	cmd.AddCommand(version.NewCommand())

	return cmd
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
