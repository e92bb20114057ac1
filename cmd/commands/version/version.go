// Package version implements the version command.
package version

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X .../version.Version=v1.2.3".
var (
	Version = "dev"
	Commit  = ""
)

// NewCommand returns the version command.
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if Commit != "" {
				_, err := fmt.Fprintf(out, "recipebox %s (%s, %s)\n", Version, Commit, runtime.Version())
				return err
			}
			_, err := fmt.Fprintf(out, "recipebox %s (%s)\n", Version, runtime.Version())
			return err
		},
	}
}
