package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"collectionwatch/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\ncommit: %s\nbuilt: %s\ngo: %s\n",
			version.UserAgent(), version.Commit, version.BuildDate, runtime.Version())
	},
}
