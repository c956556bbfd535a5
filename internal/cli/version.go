package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information, set at build time
var (
	Version   = "0.2.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("taior %s\n", Version)
		if IsVerbose() {
			fmt.Printf("  build time: %s\n", BuildTime)
			fmt.Printf("  commit:     %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
