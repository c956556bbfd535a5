package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taior/taior-go/pkg/identity"
)

var idCount int

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Generate ephemeral taior identities",
	Long: `Generates one or more ephemeral identities and prints their
addresses. Identities are never persisted; every invocation yields fresh,
unlinkable addresses.`,
	RunE: runID,
}

func init() {
	idCmd.Flags().IntVarP(&idCount, "count", "n", 1, "number of identities to generate")
	rootCmd.AddCommand(idCmd)
}

func runID(cmd *cobra.Command, args []string) error {
	bold := color.New(color.Bold)

	for i := 0; i < idCount; i++ {
		id, err := identity.New()
		if err != nil {
			return fmt.Errorf("generate identity: %w", err)
		}
		bold.Println(id.Address())
	}
	return nil
}
