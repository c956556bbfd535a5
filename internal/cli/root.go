// Package cli implements the taior demo command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "taior",
	Short: "Anonymity-preserving overlay messaging",
	Long: `Taior is an anonymity-preserving overlay messaging tool.
Ephemeral peers exchange padded, authenticated-encrypted packets through a
probabilistically chosen multi-hop path; each relay peels exactly one
encryption layer and learns only its immediate neighbors.

Examples:
  # Show a fresh ephemeral address
  taior id

  # Send a message through a 4-hop mix circuit
  taior send --mode mix --nodes n1,n2,n3,n4 "hello"

  # Run a UDP relay fallback server
  taior relay --listen 0.0.0.0:4700`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.taior.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".taior")
	}

	viper.SetEnvPrefix("TAIOR")
	viper.AutomaticEnv()

	viper.SetDefault("mode", "adaptive")
	viper.SetDefault("cover_ratio", 0.3)

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// IsVerbose returns whether verbose mode is enabled
func IsVerbose() bool {
	return verbose || viper.GetBool("verbose")
}
