package watchtui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattsolo1/grove-analysis/pkg/analysis"
	"github.com/mattsolo1/grove-analysis/pkg/resource"
)

// Message types
type treeChangedMsg struct{}

type tickMsg time.Time

// notifyingFactory wraps the recording factory and pulses the events channel
// after every processed watch event so the dashboard re-renders.
type notifyingFactory struct {
	*analysis.RecordingFactory
	events chan struct{}
}

func (f *notifyingFactory) AfterWatchEvent(event resource.WatchEvent) {
	f.RecordingFactory.AfterWatchEvent(event)
	select {
	case f.events <- struct{}{}:
	default:
	}
}

// waitForActivityCmd blocks until the engine has processed a watch event.
func (m *dashboardModel) waitForActivityCmd() tea.Cmd {
	return func() tea.Msg {
		<-m.events
		return treeChangedMsg{}
	}
}

// tickCmd re-renders once a second so the event counter stays fresh even
// while the tree is quiet.
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
