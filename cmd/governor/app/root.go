// Package app wires the governor's cobra commands: the long-running serve
// command and the one-shot operator commands.
package app

import (
	"github.com/spf13/cobra"
)

// Version is stamped at build time
var Version = "dev"

// NewRootCmd builds the governor command tree
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "governor",
		Short:        "Registry governance service",
		Long:         "governor mediates every mutation of a versioned configuration registry:\nserialized commands, a processor pipeline, and filesystem synchronization.",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStateCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newApplyVersionCmd())
	rootCmd.AddCommand(newOrphansCmd())

	return rootCmd
}
