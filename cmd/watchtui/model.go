// Package watchtui is the live dashboard behind `ax watch --tui`: the
// context tree, re-rendered as the engine processes watch events.
package watchtui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattsolo1/grove-analysis/pkg/analysis"
	"github.com/mattsolo1/grove-analysis/pkg/config"
	"github.com/mattsolo1/grove-analysis/pkg/log"
	"github.com/mattsolo1/grove-analysis/pkg/resource"
)

var (
	titleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	folderStyle     = lipgloss.NewStyle().Bold(true)
	descriptorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))
	countStyle      = lipgloss.NewStyle().Faint(true)
	helpStyle       = lipgloss.NewStyle().Faint(true)
)

type dashboardModel struct {
	mgr     *analysis.Manager
	factory *notifyingFactory
	events  chan struct{}

	width    int
	height   int
	lastSeen time.Time
}

// Run assembles the engine over the real filesystem and runs the dashboard
// until the user quits.
func Run(roots []string, excluded []string, version string) error {
	if len(roots) == 0 {
		roots = []string{"."}
	}

	cfg, err := config.Load(".")
	if err != nil {
		return err
	}

	events := make(chan struct{}, 1)
	factory := &notifyingFactory{
		RecordingFactory: analysis.NewRecordingFactory(),
		events:           events,
	}

	logger := log.NewLogger(cfg.Debug, ".", version)
	provider := resource.NewOSProvider(cfg.ResolveCaseSensitive())

	mgr, err := analysis.NewManager(provider, factory, nil, cfg, logger)
	if err != nil {
		return err
	}

	absRoots := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("resolving root %s: %w", root, err)
		}
		absRoots = append(absRoots, abs)
	}
	absExcluded := make([]string, 0, len(excluded))
	for _, path := range excluded {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolving excluded path %s: %w", path, err)
		}
		absExcluded = append(absExcluded, abs)
	}

	if err := mgr.SetRoots(absRoots, absExcluded); err != nil {
		return err
	}

	model := &dashboardModel{
		mgr:     mgr,
		factory: factory,
		events:  events,
	}

	_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}

func (m *dashboardModel) Init() tea.Cmd {
	return tea.Batch(m.waitForActivityCmd(), tickCmd())
}

func (m *dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case treeChangedMsg:
		m.lastSeen = time.Now()
		return m, m.waitForActivityCmd()
	case tickMsg:
		return m, tickCmd()
	}
	return m, nil
}

func (m *dashboardModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("ax watch"))
	b.WriteString(countStyle.Render(fmt.Sprintf("  %d events", m.factory.EventCount())))
	if !m.lastSeen.IsZero() {
		b.WriteString(countStyle.Render(fmt.Sprintf("  last %s ago", time.Since(m.lastSeen).Round(time.Second))))
	}
	b.WriteString("\n\n")

	for _, top := range m.mgr.RootContexts() {
		m.renderContext(&b, top, 0)
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("q: quit"))
	return b.String()
}

func (m *dashboardModel) renderContext(b *strings.Builder, info *analysis.ContextInfo, depth int) {
	indent := strings.Repeat("  ", depth)

	label := folderStyle.Render(info.Folder())
	if descriptor := info.DescriptorPath(); descriptor != "" {
		label += " " + descriptorStyle.Render("["+filepath.Base(descriptor)+"]")
	}
	b.WriteString(fmt.Sprintf("%s%s %s\n", indent, label,
		countStyle.Render(fmt.Sprintf("(%d sources)", len(info.SourcePaths())))))

	for _, child := range info.Children() {
		m.renderContext(b, child, depth+1)
	}
}
