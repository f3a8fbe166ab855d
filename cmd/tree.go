package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/mattsolo1/grove-analysis/pkg/analysis"
)

var (
	folderStyle     = lipgloss.NewStyle().Bold(true)
	descriptorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))
	sourceStyle     = lipgloss.NewStyle().Faint(true)
)

func NewTreeCmd() *cobra.Command {
	var excluded []string
	var showSources bool

	cmd := &cobra.Command{
		Use:   "tree [roots...]",
		Short: "Show the analysis context tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := buildManager(args, excluded)
			if err != nil {
				return err
			}

			for _, top := range mgr.RootContexts() {
				printContext(top, 0, showSources)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&excluded, "exclude", "x", nil, "paths to exclude from analysis")
	cmd.Flags().BoolVarP(&showSources, "sources", "s", false, "include source files in the tree")
	return cmd
}

func printContext(info *analysis.ContextInfo, depth int, showSources bool) {
	indent := strings.Repeat("  ", depth)

	label := folderStyle.Render(info.Folder())
	if descriptor := info.DescriptorPath(); descriptor != "" {
		label += " " + descriptorStyle.Render("["+filepath.Base(descriptor)+"]")
	}
	fmt.Printf("%s%s (%d sources)\n", indent, label, len(info.SourcePaths()))

	if showSources {
		for _, path := range info.SourcePaths() {
			rel, err := filepath.Rel(info.Folder(), path)
			if err != nil {
				rel = path
			}
			fmt.Printf("%s  %s\n", indent, sourceStyle.Render(rel))
		}
	}

	for _, child := range info.Children() {
		printContext(child, depth+1, showSources)
	}
}
