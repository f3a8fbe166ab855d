package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mattsolo1/grove-analysis/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "ax",
		Short:        "Live analysis context management for developer workspaces",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cmd.NewListCmd())
	rootCmd.AddCommand(cmd.NewTreeCmd())
	rootCmd.AddCommand(cmd.NewWatchCmd())
	rootCmd.AddCommand(cmd.NewVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
