package cmd

import (
	"fmt"

	"github.com/TristanOther/Bot-Star/botstar"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf(
			"version=%s commit=%s built: %s",
			botstar.Version,
			botstar.CommitSHA,
			botstar.BuildTime,
		)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(versionCmd)
}
