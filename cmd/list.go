package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewListCmd() *cobra.Command {
	var excluded []string

	cmd := &cobra.Command{
		Use:   "list [roots...]",
		Short: "List analysis contexts and their sources",
		Long:  `Discovers analysis contexts under the given roots (default: the current directory) and lists each context with the source files it owns.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := buildManager(args, excluded)
			if err != nil {
				return err
			}

			for _, info := range mgr.Contexts() {
				fmt.Printf("%s\n", info.Folder())
				if info.DescriptorPath() != "" {
					fmt.Printf("  descriptor: %s\n", info.DescriptorPath())
				}
				for _, path := range info.SourcePaths() {
					fmt.Printf("  %s\n", path)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&excluded, "exclude", "x", nil, "paths to exclude from analysis")
	return cmd
}
