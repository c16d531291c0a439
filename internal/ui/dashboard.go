package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yourusername/plb/internal/balancer"
	"github.com/yourusername/plb/internal/cluster"
	"github.com/yourusername/plb/internal/config"
	"github.com/yourusername/plb/internal/proxmox"
	"github.com/yourusername/plb/internal/ui/components"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("6")).
			Padding(0, 2)
)

// view is one rendered cluster state: the snapshot with deviations written
// and the planner's current candidate list.
type view struct {
	snap     *cluster.Snapshot
	variants []balancer.Variant
}

type loadedMsg view
type loadFailedMsg struct{ err error }

// Model is the read-only cluster dashboard behind `plb status`.
type Model struct {
	cfg     *config.Config
	gw      proxmox.Gateway
	spinner spinner.Model

	loading bool
	err     error
	view    view
	width   int
}

// NewModel creates a dashboard model. The gateway must be authenticated.
func NewModel(cfg *config.Config, gw proxmox.Gateway) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{cfg: cfg, gw: gw, spinner: sp, loading: true, width: 100}
}

// load builds a fresh snapshot, samples trends, runs detection and plans,
// off the UI goroutine.
func (m Model) load() tea.Msg {
	snap, err := cluster.NewBuilder(m.gw, m.cfg).Build()
	if err != nil {
		return loadFailedMsg{err: err}
	}
	cluster.NewTrendSampler(m.gw).Sample(snap)
	balancer.NewDetector(m.cfg).Detect(snap)
	variants := balancer.NewPlanner(m.cfg).Plan(snap)
	return loadedMsg{snap: snap, variants: variants}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.load)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.loading = true
			m.err = nil
			return m, tea.Batch(m.spinner.Tick, m.load)
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case loadedMsg:
		m.loading = false
		m.view = view(msg)
	case loadFailedMsg:
		m.loading = false
		m.err = msg.err
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	if m.loading {
		return fmt.Sprintf("\n %s Loading cluster state...\n", m.spinner.View())
	}
	if m.err != nil {
		return badStyle.Render(fmt.Sprintf("\n Failed to load cluster state: %v\n", m.err)) +
			labelStyle.Render("\n r to retry, q to quit\n")
	}

	var b strings.Builder
	b.WriteString(m.renderSummary())
	b.WriteString("\n")
	b.WriteString(m.renderNodes())
	b.WriteString("\n")
	b.WriteString(m.renderPlan())
	b.WriteString(labelStyle.Render("\n r refresh · q quit\n"))
	return b.String()
}

func (m Model) renderSummary() string {
	snap := m.view.snap

	quorum := okStyle.Render("quorate")
	if !snap.Quorate {
		quorum = badStyle.Render("NOT QUORATE")
	}

	content := titleStyle.Render(fmt.Sprintf("Cluster %s", snap.Name)) + "\n\n"
	content += labelStyle.Render("Master:  ") + valueStyle.Render(snap.MasterNode) + "\n"
	content += labelStyle.Render("Quorum:  ") + quorum + "\n"
	nodes := fmt.Sprintf("%d included / %d online", len(snap.IncludedNodes), len(snap.Nodes))
	if len(snap.OfflineNodes) > 0 {
		nodes += badStyle.Render(fmt.Sprintf("  %d offline", len(snap.OfflineNodes)))
	}
	content += labelStyle.Render("Nodes:   ") + valueStyle.Render(nodes) + "\n"
	content += labelStyle.Render("Guests:  ") +
		valueStyle.Render(fmt.Sprintf("%d included / %d running", len(snap.IncludedGuests), len(snap.Guests))) + "\n"
	content += labelStyle.Render("RAM:     ") +
		valueStyle.Render(fmt.Sprintf("%.1f%% (%s / %s)",
			snap.MemLoadIncluded*100,
			components.FormatBytes(snap.ClUsedMem),
			components.FormatBytes(snap.ClMaxMem))) + "\n"
	content += labelStyle.Render("CPU:     ") +
		valueStyle.Render(fmt.Sprintf("%.1f%%", snap.ClCPULoadIncluded*100))

	return boxStyle.Render(content)
}

func (m Model) renderNodes() string {
	snap := m.view.snap

	names := make([]string, 0, len(snap.Nodes))
	for name := range snap.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	barWidth := m.width / 3
	if barWidth < 24 {
		barWidth = 24
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Nodes") + "\n")
	for _, name := range names {
		node := snap.Nodes[name]
		tag := ""
		if node.IsMaster {
			tag = " " + okStyle.Render("(master)")
		}
		if _, included := snap.IncludedNodes[name]; !included {
			tag += " " + labelStyle.Render("(excluded)")
		}
		guests := len(snap.IncludedGuestsOn(name))
		b.WriteString(fmt.Sprintf("%s%s  %s\n",
			valueStyle.Render(fmt.Sprintf("%-12s", name)), tag,
			labelStyle.Render(fmt.Sprintf("%d guests · deviation %.4f", guests, node.Deviation))))
		b.WriteString("  " + components.RenderResourceBar("RAM", node.MemLoad*100, barWidth) + "\n")
		b.WriteString("  " + components.RenderResourceBar("CPU", node.CPUFraction*100, barWidth) + "\n")
	}
	return b.String()
}

func (m Model) renderPlan() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Planned moves") + "\n")
	if len(m.view.variants) == 0 {
		b.WriteString(labelStyle.Render("none — no beneficial migration found\n"))
		return b.String()
	}
	for i, v := range m.view.variants {
		if i == 5 {
			b.WriteString(labelStyle.Render(fmt.Sprintf("… and %d more\n", len(m.view.variants)-i)))
			break
		}
		b.WriteString(fmt.Sprintf("%s %s\n",
			valueStyle.Render(fmt.Sprintf("guest %d", v.VMID)),
			labelStyle.Render(fmt.Sprintf("%s → %s (projected deviation %.4f)", v.Donor, v.Recipient, v.ProjectedTotal))))
	}
	return b.String()
}

// Run starts the dashboard program in the alternate screen.
func Run(cfg *config.Config, gw proxmox.Gateway) error {
	p := tea.NewProgram(NewModel(cfg, gw), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
