package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/atmo/atmo/internal/cluster"
)

// RefreshFunc fetches the latest state of the watched cluster.
type RefreshFunc func(ctx context.Context) (*cluster.Cluster, error)

type refreshedMsg struct {
	cluster *cluster.Cluster
	err     error
}

type pollMsg struct{}

// WatchModel polls a cluster until it is ready or in a final status.
type WatchModel struct {
	refresh  RefreshFunc
	interval time.Duration
	spinner  spinner.Model

	cluster   *cluster.Cluster
	err       error
	polls     int
	done      bool
	cancelled bool
}

// NewWatchModel creates a watch model polling every interval.
func NewWatchModel(refresh RefreshFunc, interval time.Duration) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return WatchModel{
		refresh:  refresh,
		interval: interval,
		spinner:  s,
	}
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll())
}

func (m WatchModel) poll() tea.Cmd {
	refresh := m.refresh
	return func() tea.Msg {
		c, err := refresh(context.Background())
		return refreshedMsg{cluster: c, err: err}
	}
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.cancelled = true
			m.done = true
			return m, tea.Quit
		}
		return m, nil

	case refreshedMsg:
		m.polls++
		m.err = msg.err
		if msg.cluster != nil {
			m.cluster = msg.cluster
		}
		if m.Settled() {
			m.done = true
			return m, tea.Quit
		}
		return m, tea.Tick(m.interval, func(time.Time) tea.Msg { return pollMsg{} })

	case pollMsg:
		return m, m.poll()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m WatchModel) View() string {
	var b strings.Builder

	if m.cluster == nil {
		b.WriteString(fmt.Sprintf("  %s Fetching cluster...\n", m.spinner.View()))
		return b.String()
	}

	b.WriteString(titleStyle.Render(m.cluster.String()))
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("  Status:  %s\n", RenderStatus(m.cluster.Status)))
	if m.cluster.MasterAddress != "" {
		b.WriteString(fmt.Sprintf("  Master:  %s\n", highlightStyle.Render(m.cluster.MasterAddress)))
	}
	if m.cluster.StateChangeReason.IsFailure() {
		b.WriteString(fmt.Sprintf("  Reason:  %s\n", errStyle.Render(string(m.cluster.StateChangeReason)+" "+m.cluster.StateChangeMessage)))
	}
	if m.err != nil {
		b.WriteString(fmt.Sprintf("  %s\n", warnStyle.Render("last refresh failed: "+m.err.Error())))
	}

	b.WriteString("\n")
	switch {
	case m.cluster.IsReady():
		b.WriteString(successStyle.Render("  Cluster is ready."))
		b.WriteString("\n")
	case m.cluster.Status.IsFinal():
		b.WriteString(dimStyle.Render("  Cluster has terminated."))
		b.WriteString("\n")
	case !m.done:
		b.WriteString(fmt.Sprintf("  %s %s\n", m.spinner.View(), dimStyle.Render("waiting (q to stop watching)")))
	}
	return b.String()
}

// Settled reports whether the cluster reached a status worth stopping for.
func (m WatchModel) Settled() bool {
	return m.cluster != nil && (m.cluster.IsReady() || m.cluster.Status.IsFinal())
}

// Cluster returns the last observed cluster.
func (m WatchModel) Cluster() *cluster.Cluster { return m.cluster }

// Cancelled returns true if the user stopped watching.
func (m WatchModel) Cancelled() bool { return m.cancelled }

// Err returns the last refresh error.
func (m WatchModel) Err() error { return m.err }
