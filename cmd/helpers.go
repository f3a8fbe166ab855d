package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattsolo1/grove-analysis/pkg/analysis"
	"github.com/mattsolo1/grove-analysis/pkg/config"
	"github.com/mattsolo1/grove-analysis/pkg/log"
	"github.com/mattsolo1/grove-analysis/pkg/resource"
)

// Version is set at build time.
var Version = "dev"

// stderrNotifications prints diagnostics as they are recorded. Recording is
// an idempotent replace per path, so a clean re-analysis simply prints
// nothing.
type stderrNotifications struct{}

func (n *stderrNotifications) RecordAnalysisErrors(path string, errors []analysis.AnalysisError) {
	for _, e := range errors {
		if e.Line > 0 {
			fmt.Fprintf(os.Stderr, "%s:%d: %s: %s\n", path, e.Line, e.Severity, e.Message)
		} else {
			fmt.Fprintf(os.Stderr, "%s: %s: %s\n", path, e.Severity, e.Message)
		}
	}
}

// buildManager assembles the engine over the real filesystem with the
// recording driver factory and sets its roots.
func buildManager(roots []string, excluded []string) (*analysis.Manager, *analysis.RecordingFactory, error) {
	if len(roots) == 0 {
		roots = []string{"."}
	}

	cfg, err := config.Load(".")
	if err != nil {
		return nil, nil, err
	}

	logger := log.NewLogger(cfg.Debug, ".", Version)
	provider := resource.NewOSProvider(cfg.ResolveCaseSensitive())
	factory := analysis.NewRecordingFactory()

	mgr, err := analysis.NewManager(provider, factory, &stderrNotifications{}, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	absRoots := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving root %s: %w", root, err)
		}
		absRoots = append(absRoots, abs)
	}
	absExcluded := make([]string, 0, len(excluded))
	for _, path := range excluded {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving excluded path %s: %w", path, err)
		}
		absExcluded = append(absExcluded, abs)
	}

	if err := mgr.SetRoots(absRoots, absExcluded); err != nil {
		return nil, nil, err
	}
	return mgr, factory, nil
}
