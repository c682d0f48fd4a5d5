// Package tui provides the interactive terminal dashboard using Bubble Tea.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/greg-hellings/datadash/pkg/analytics"
	"github.com/greg-hellings/datadash/pkg/api"
	"github.com/greg-hellings/datadash/pkg/dashboard"
	"github.com/greg-hellings/datadash/pkg/datasets"
	"github.com/greg-hellings/datadash/pkg/report/format"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginLeft(2)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

// Controller is the part of dashboard.Controller the TUI drives.
type Controller interface {
	Mount(ctx context.Context) error
	Refresh(ctx context.Context) error
	Select(ctx context.Context, id string) error
	Upload(ctx context.Context, filename string, content io.Reader) error
	Snapshot() dashboard.State
}

// ReportSource downloads the PDF report of a dataset.
type ReportSource interface {
	DownloadReport(ctx context.Context, id string) ([]byte, error)
}

// Options configures the header line and report downloads. Without Reports
// the download key is disabled.
type Options struct {
	Username  string
	BaseURL   string
	Reports   ReportSource
	ReportDir string
}

type mode int

const (
	modeBrowse mode = iota
	modeUpload
)

// Message types
type stateMsg dashboard.State
type doneMsg struct {
	action string
	detail string
	err    error
}

// Model is the dashboard TUI model.
type Model struct {
	ctrl Controller
	ctx  context.Context
	opts Options

	state   dashboard.State
	cursor  int
	mode    mode
	notice  string
	failure string
	expired bool
	rows    bool

	spinner spinner.Model
	input   textinput.Model
	width   int
	height  int
}

// New creates a dashboard model over ctrl.
func New(ctx context.Context, ctrl Controller, opts Options) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ti := textinput.New()
	ti.Placeholder = "path/to/equipment.csv"
	ti.CharLimit = 1024
	ti.Width = 60

	return Model{
		ctrl:    ctrl,
		ctx:     ctx,
		opts:    opts,
		state:   ctrl.Snapshot(),
		spinner: s,
		input:   ti,
		width:   80,
	}
}

// Init mounts the dashboard.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.run("load", m.ctrl.Mount))
}

func (m Model) run(action string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return doneMsg{action: action, err: fn(ctx)}
	}
}

func (m Model) selectCmd(id string) tea.Cmd {
	return m.run("select", func(ctx context.Context) error {
		return m.ctrl.Select(ctx, id)
	})
}

func (m Model) uploadCmd(path string) tea.Cmd {
	return m.run("upload", func(ctx context.Context) error {
		f, err := os.Open(filepath.Clean(path))
		if err != nil {
			return err
		}
		defer f.Close()
		return m.ctrl.Upload(ctx, filepath.Base(path), f)
	})
}

func (m Model) reportCmd(id string) tea.Cmd {
	ctx, reports, dir := m.ctx, m.opts.Reports, m.opts.ReportDir
	return func() tea.Msg {
		data, err := reports.DownloadReport(ctx, id)
		if err != nil {
			return doneMsg{action: "report", err: err}
		}
		path := filepath.Join(dir, analytics.ReportFilename(id))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return doneMsg{action: "report", err: fmt.Errorf("failed to write report: %w", err)}
		}
		return doneMsg{action: "report", detail: path}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.mode == modeUpload {
			return m.updateUpload(msg)
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.state.List)-1 {
				m.cursor++
			}
		case "enter", " ":
			if !m.expired && m.cursor < len(m.state.List) {
				m.notice, m.failure = "", ""
				return m, m.selectCmd(m.state.List[m.cursor].ID)
			}
		case "p":
			m.rows = !m.rows
		case "d":
			if snap, ok := m.state.Ready(); ok && !m.expired && m.opts.Reports != nil {
				m.notice, m.failure = "Downloading report...", ""
				return m, m.reportCmd(snap.DatasetID)
			}
		case "r":
			if !m.expired {
				m.notice, m.failure = "", ""
				return m, m.run("refresh", m.ctrl.Refresh)
			}
		case "u":
			if !m.expired && !m.state.Uploading() {
				m.mode = modeUpload
				m.notice, m.failure = "", ""
				m.input.SetValue("")
				return m, m.input.Focus()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case stateMsg:
		if s := dashboard.State(msg); s.Version() >= m.state.Version() {
			m.applyState(s)
		}

	case doneMsg:
		// Errors are already recorded in the state; only a lost session and
		// local failures need extra handling here.
		m.applyState(m.ctrl.Snapshot())
		switch {
		case msg.err == nil:
			switch msg.action {
			case "upload":
				m.notice = "Upload complete."
			case "report":
				m.notice = "Saved " + msg.detail
			}
		case api.IsUnauthorized(msg.err):
			m.expired = true
		case msg.action == "upload" && errors.Is(msg.err, os.ErrNotExist):
			m.notice = "File not found."
		case msg.action == "report":
			m.notice = ""
			m.failure = api.Message(msg.err, "Report download failed")
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) updateUpload(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.mode = modeBrowse
		m.input.Blur()
		return m, nil
	case "enter":
		path := strings.TrimSpace(m.input.Value())
		m.mode = modeBrowse
		m.input.Blur()
		if path == "" {
			return m, nil
		}
		return m, m.uploadCmd(path)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// applyState stores s and keeps the cursor on the selected dataset.
func (m *Model) applyState(s dashboard.State) {
	prevSelected := m.state.SelectedID
	m.state = s
	if s.SelectedID != "" && s.SelectedID != prevSelected {
		for i, d := range s.List {
			if d.ID == s.SelectedID {
				m.cursor = i
				break
			}
		}
	}
	if m.cursor >= len(s.List) {
		m.cursor = max(0, len(s.List)-1)
	}
}

// View renders the TUI
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Equipment Analytics") + "\n")
	b.WriteString(infoStyle.Render(m.header()) + "\n\n")

	if m.expired {
		b.WriteString(errorStyle.Render("  Session expired. Run `datadash login` and start the dashboard again.") + "\n")
		b.WriteString(helpStyle.Render("  q: quit"))
		return b.String()
	}

	b.WriteString(m.viewList() + "\n")
	b.WriteString(m.viewAnalytics() + "\n")

	if m.mode == modeUpload {
		b.WriteString("\n  Upload CSV: " + m.input.View() + "\n")
	}
	if m.state.Uploading() {
		b.WriteString(fmt.Sprintf("\n  %s Uploading...\n", m.spinner.View()))
	}
	if msg := m.state.Err(dashboard.ConcernUpload); msg != "" {
		b.WriteString("\n  " + errorStyle.Render(msg) + "\n")
	}
	if m.notice != "" {
		b.WriteString("\n  " + activeStyle.Render(m.notice) + "\n")
	}
	if m.failure != "" {
		b.WriteString("\n  " + errorStyle.Render(m.failure) + "\n")
	}

	var helpText string
	if m.mode == modeUpload {
		helpText = "enter: upload │ esc: cancel"
	} else {
		helpText = "j/k: navigate │ enter: select │ p: rows │ d: report │ r: refresh │ u: upload │ q: quit"
	}
	b.WriteString(helpStyle.Render("  " + helpText))
	return b.String()
}

func (m Model) header() string {
	parts := []string{}
	if m.opts.Username != "" {
		parts = append(parts, "Signed in as "+m.opts.Username)
	}
	if m.opts.BaseURL != "" {
		parts = append(parts, m.opts.BaseURL)
	}
	return "  " + strings.Join(parts, " │ ")
}

func (m Model) boxWidth() int {
	return max(40, m.width-4)
}

func (m Model) viewList() string {
	var b strings.Builder
	list := m.state.List
	b.WriteString(activeStyle.Render(fmt.Sprintf("Recent datasets (%d/%d)", len(list), datasets.MaxRecent)) + "\n")

	loading := m.state.Request(dashboard.ConcernList).Phase == dashboard.InFlight
	switch {
	case loading && len(list) == 0:
		b.WriteString(fmt.Sprintf("%s Loading datasets...", m.spinner.View()))
	case len(list) == 0:
		b.WriteString(infoStyle.Render("No datasets uploaded yet. Press u to upload a CSV."))
	default:
		for i, d := range list {
			cursor := "  "
			style := infoStyle
			if i == m.cursor {
				cursor = "▶ "
			}
			if d.ID == m.state.SelectedID {
				style = activeStyle
			}
			line := fmt.Sprintf("%s%-28s %-10s %s", cursor, truncate(d.Filename, 28), d.Status, shortID(d.ID))
			b.WriteString(style.Render(line))
			if i < len(list)-1 {
				b.WriteString("\n")
			}
		}
	}
	if msg := m.state.Err(dashboard.ConcernList); msg != "" {
		b.WriteString("\n" + errorStyle.Render(msg))
	}
	return boxStyle.Width(m.boxWidth()).Render(b.String())
}

func (m Model) viewAnalytics() string {
	var b strings.Builder
	s := m.state

	if d, ok := s.Selected(); ok {
		b.WriteString(activeStyle.Render(d.Filename) + "\n")
		if line := format.StatusLine(d); line != "" {
			b.WriteString(warnStyle.Render(line) + "\n")
		}
	}

	switch s.Phase {
	case dashboard.NoSelection:
		b.WriteString(infoStyle.Render("Select a dataset to see its analytics."))
	case dashboard.Loading:
		b.WriteString(fmt.Sprintf("%s Loading dataset...", m.spinner.View()))
	case dashboard.Degraded:
		msg := s.Err(dashboard.ConcernDataset)
		if msg == "" {
			msg = dashboard.MsgDatasetFailed
		}
		b.WriteString(errorStyle.Render(msg) + "\n")
		b.WriteString(infoStyle.Render("Press enter to retry."))
	case dashboard.Ready:
		snap, ok := s.Ready()
		if !ok {
			b.WriteString(fmt.Sprintf("%s Loading dataset...", m.spinner.View()))
			break
		}
		b.WriteString(m.viewSnapshot(snap))
	}
	return boxStyle.Width(m.boxWidth()).Render(b.String())
}

func (m Model) viewSnapshot(snap *analytics.Snapshot) string {
	var b strings.Builder
	sum := snap.Summary

	b.WriteString(fmt.Sprintf("Total equipment: %d\n", sum.TotalCount))
	for _, field := range format.MetricOrder {
		b.WriteString(fmt.Sprintf("  Avg %-12s %s\n", field, format.FormatAverage(&sum, field)))
	}

	if len(sum.TypeDistribution) > 0 {
		b.WriteString("\nType distribution\n")
		for _, typ := range sortedTypes(sum.TypeDistribution) {
			n := sum.TypeDistribution[typ]
			bar := strings.Repeat("■", min(n, 40))
			b.WriteString(fmt.Sprintf("  %-14s %s %d\n", truncate(typ, 14), bar, n))
		}
	}

	if m.rows {
		b.WriteString("\n" + m.viewRows(snap.Preview))
		return strings.TrimRight(b.String(), "\n")
	}

	metrics := snap.Preview.Metrics()
	b.WriteString(fmt.Sprintf("\nMetrics (first %d rows)\n", len(metrics.Labels)))
	if !metrics.HasData() {
		b.WriteString(infoStyle.Render("  No numeric data in preview."))
		return b.String()
	}
	width := max(10, m.boxWidth()-40)
	for _, series := range []struct {
		name   string
		values []*float64
	}{
		{analytics.ColumnFlowrate, metrics.Flowrate},
		{analytics.ColumnPressure, metrics.Pressure},
		{analytics.ColumnTemperature, metrics.Temperature},
	} {
		lo, hi, ok := seriesRange(series.values)
		rng := "-"
		if ok {
			rng = fmt.Sprintf("%.2f..%.2f", lo, hi)
		}
		b.WriteString(fmt.Sprintf("  %-12s %s %s\n", series.name, sparkline(series.values, width), infoStyle.Render(rng)))
	}
	return strings.TrimRight(b.String(), "\n")
}

// viewRows renders as many preview rows as fit the window.
func (m Model) viewRows(p analytics.Preview) string {
	n := len(p.Rows)
	if m.height > 0 {
		n = min(n, max(3, m.height-28))
	}
	page := p
	page.Rows = p.Rows[:n]
	page.Returned = n

	f := &format.ConsoleFormatter{MaxColWidth: 16}
	var b strings.Builder
	if err := f.RenderPreview(&page, &b); err != nil {
		return errorStyle.Render(err.Error())
	}
	if n < len(p.Rows) {
		b.WriteString(infoStyle.Render(fmt.Sprintf("%d more rows not shown", len(p.Rows)-n)))
	}
	return b.String()
}

func sortedTypes(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

// Run starts the dashboard and blocks until the user quits.
func Run(ctx context.Context, ctrl *dashboard.Controller, opts Options) error {
	p := tea.NewProgram(New(ctx, ctrl, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	unsubscribe := ctrl.Subscribe(func(s dashboard.State) {
		p.Send(stateMsg(s))
	})
	defer unsubscribe()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

var _ Controller = (*dashboard.Controller)(nil)
