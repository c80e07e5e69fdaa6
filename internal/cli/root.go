package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/buildgate/buildgate/internal/integrity"
)

var rootCmd = &cobra.Command{
	Use:   "buildgate",
	Short: "Policy-gated command execution for build infrastructure",
	Long:  "Exposes command execution on build hosts as MCP tools behind an allowlist,\ndangerous-pattern screening, path containment, and per-caller rate limits.\nEvery decision lands in a hash-chained audit log.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := integrity.Verify(); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			os.Exit(78) // EX_CONFIG
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
