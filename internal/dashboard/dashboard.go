// Package dashboard implements the operator TUI for the automatic prediction
// loop using BubbleTea: status bar, event table, gas chart and messages.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"gas-monitor/internal/services"
)

const maxNotices = 5

// Controller is the part of the prediction loop the dashboard drives
type Controller interface {
	Start(ctx context.Context) bool
	Stop() bool
	Snapshot() services.Snapshot
}

// ── Messages ─────────────────────────────────────────────────────────

type snapshotMsg services.Snapshot

type noticeMsg services.Notice

type startMsg struct{}

// ── Model ────────────────────────────────────────────────────────────

// Model is the BubbleTea model for the dashboard.
type Model struct {
	ctx       context.Context
	ctrl      Controller
	autoStart bool

	snap      services.Snapshot
	notices   []services.Notice
	width     int
	height    int
	startTime time.Time
}

// New creates the initial model. ctx bounds every loop session started from
// the dashboard.
func New(ctx context.Context, ctrl Controller, autoStart bool) Model {
	return Model{
		ctx:       ctx,
		ctrl:      ctrl,
		autoStart: autoStart,
		snap:      ctrl.Snapshot(),
		startTime: time.Now(),
	}
}

// ── Init / Update ────────────────────────────────────────────────────

func (m Model) Init() tea.Cmd {
	if m.autoStart {
		return func() tea.Msg { return startMsg{} }
	}
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.ctrl.Stop()
			return m, tea.Quit
		case "s":
			m = m.start()
		case "x":
			if m.ctrl.Stop() {
				m = m.addNotice(services.SeverityInfo, "Automatic prediction stopped")
			}
			m.snap = m.ctrl.Snapshot()
		}

	case startMsg:
		m = m.start()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case snapshotMsg:
		m.snap = services.Snapshot(msg)

	case noticeMsg:
		m.notices = append(m.notices, services.Notice(msg))
		if len(m.notices) > maxNotices {
			m.notices = m.notices[len(m.notices)-maxNotices:]
		}
		// a fatal error stops the loop, refresh the status
		m.snap = m.ctrl.Snapshot()
	}

	return m, nil
}

func (m Model) start() Model {
	if m.ctrl.Start(m.ctx) {
		m = m.addNotice(services.SeverityInfo, "Automatic prediction started")
	} else {
		m = m.addNotice(services.SeverityInfo, "Automatic prediction is already running")
	}
	m.snap = m.ctrl.Snapshot()
	return m
}

func (m Model) addNotice(sev services.Severity, text string) Model {
	next, _ := m.Update(noticeMsg{Severity: sev, Message: text, Time: time.Now()})
	return next.(Model)
}

// ── View ─────────────────────────────────────────────────────────────

func (m Model) View() string {
	width := m.width - 2
	if width < 60 {
		width = 60
	}

	sections := []string{m.renderTitleBar(width)}

	if len(m.notices) > 0 {
		sections = append(sections, m.renderNotices(width))
	}

	if len(m.snap.Events) == 0 {
		waiting := lipgloss.NewStyle().
			Foreground(colorDim).
			Width(width).
			Align(lipgloss.Center).
			Padding(1, 0).
			Render("No predictions yet. Press s to start.")
		sections = append(sections, waiting)
	} else {
		sections = append(sections,
			RenderTable(m.snap.Events, 0),
			lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorBorder).
				Padding(0, 1).
				Render(RenderChart(m.snap.Events, width-4)),
		)
	}

	sections = append(sections, m.renderFooter(width))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderTitleBar(width int) string {
	logo := lipgloss.NewStyle().
		Bold(true).
		Foreground(colorTitleFg).
		Render("GAS LEVEL MONITOR")

	var statusParts []string
	if m.snap.Running {
		statusParts = append(statusParts, lipgloss.NewStyle().Foreground(colorSafe).Bold(true).Render("RUNNING"))
	} else {
		statusParts = append(statusParts, lipgloss.NewStyle().Foreground(colorDanger).Bold(true).Render("STOPPED"))
	}

	if ev, ok := m.snap.Latest(); ok {
		badge := lipgloss.NewStyle().Foreground(LevelColor(ev.Level)).Bold(true).Render(ev.Level.String())
		statusParts = append(statusParts, "last "+badge)
	}

	dimS := lipgloss.NewStyle().Foreground(colorDim)
	statusParts = append(statusParts,
		dimS.Render(fmt.Sprintf("%d/%d events", len(m.snap.Events), m.snap.Capacity)),
		dimS.Render(fmt.Sprintf("up %s", time.Since(m.startTime).Round(time.Second))),
	)

	sep := dimS.Render(" │ ")
	right := strings.Join(statusParts, sep)

	gap := width - lipgloss.Width(logo) - lipgloss.Width(right) - 4
	if gap < 1 {
		gap = 1
	}

	return lipgloss.NewStyle().
		Background(colorTitleBg).
		Width(width).
		Padding(0, 1).
		Render(logo + strings.Repeat(" ", gap) + right)
}

func (m Model) renderNotices(width int) string {
	lines := make([]string, 0, len(m.notices))
	for _, n := range m.notices {
		color := colorDim
		switch n.Severity {
		case services.SeverityWarning:
			color = colorWarning
		case services.SeverityError:
			color = colorDanger
		}
		ts := n.Time.Format("15:04:05")
		lines = append(lines, lipgloss.NewStyle().Foreground(color).Render(ts+"  "+n.Message))
	}
	return lipgloss.NewStyle().Width(width).Padding(0, 1).Render(strings.Join(lines, "\n"))
}

func (m Model) renderFooter(width int) string {
	dimS := lipgloss.NewStyle().Foreground(colorDim)
	labelS := lipgloss.NewStyle().Foreground(colorLabel)
	block := func(c lipgloss.Color) string { return lipgloss.NewStyle().Foreground(c).Render("██") }

	legend := block(colorSafe) + dimS.Render(" safe ") +
		block(colorWarning) + dimS.Render(" warning ") +
		block(colorDanger) + dimS.Render(" danger")

	keys := dimS.Render("s") + labelS.Render(":start") +
		dimS.Render("  x") + labelS.Render(":stop") +
		dimS.Render("  q") + labelS.Render(":quit")

	gap := width - lipgloss.Width(legend) - lipgloss.Width(keys) - 4
	if gap < 1 {
		gap = 1
	}

	return lipgloss.NewStyle().
		Background(colorFooterBg).
		Width(width).
		Padding(0, 1).
		Render(legend + strings.Repeat(" ", gap) + keys)
}

// Presenter forwards loop output to a running program. Output produced
// before Attach is dropped; the model reads the snapshot directly on start.
type Presenter struct {
	mu   sync.RWMutex
	send func(tea.Msg)
}

// Attach connects the presenter to p
func (pr *Presenter) Attach(p *tea.Program) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.send = p.Send
}

func (pr *Presenter) deliver(msg tea.Msg) {
	pr.mu.RLock()
	send := pr.send
	pr.mu.RUnlock()
	if send != nil {
		send(msg)
	}
}

func (pr *Presenter) Present(s services.Snapshot) {
	pr.deliver(snapshotMsg(s))
}

func (pr *Presenter) Report(n services.Notice) {
	pr.deliver(noticeMsg(n))
}
