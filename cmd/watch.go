package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattsolo1/grove-analysis/cmd/watchtui"
)

func NewWatchCmd() *cobra.Command {
	var excluded []string
	var tui bool

	cmd := &cobra.Command{
		Use:   "watch [roots...]",
		Short: "Watch roots and keep the context tree live",
		Long:  `Discovers analysis contexts under the given roots, then watches the filesystem and reshapes the tree as files and package descriptors appear, change, or disappear. With --tui, shows a live dashboard.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tui {
				return watchtui.Run(args, excluded, Version)
			}

			mgr, _, err := buildManager(args, excluded)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "watching %d contexts, ctrl-c to stop\n", len(mgr.Contexts()))

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh

			for _, info := range mgr.Contexts() {
				fmt.Printf("%s (%d sources)\n", info.Folder(), len(info.SourcePaths()))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&excluded, "exclude", "x", nil, "paths to exclude from analysis")
	cmd.Flags().BoolVar(&tui, "tui", false, "show the live dashboard")
	return cmd
}
