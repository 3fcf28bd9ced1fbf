package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	defaultFeedCapacity = 500
	defaultScanInterval = 2 * time.Second
)

// ScanFunc produces a point-in-time view of live sessions. The model calls
// it on a timer so the sessions pane stays current even when no traffic
// arrives on the feed.
type ScanFunc func(ctx context.Context) (*Snapshot, error)

// KeyMap defines the key bindings for the monitor UI.
type KeyMap struct {
	Quit   key.Binding
	Filter key.Binding
	Export key.Binding
	Clear  key.Binding
}

// DefaultKeyMap returns the standard monitor key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Filter: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "filter"),
		),
		Export: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "export"),
		),
		Clear: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear"),
		),
	}
}

type (
	entryMsg      Entry
	feedClosedMsg struct{}
	snapshotMsg   struct{ snap *Snapshot }
	scanErrMsg    struct{ err error }
	scanTickMsg   time.Time
	exportDoneMsg struct {
		path string
		err  error
	}
)

// Model is the bubbletea model for the live session monitor. It renders a
// sessions pane fed by periodic registry scans next to a message feed fed
// by pub/sub deliveries.
type Model struct {
	feed <-chan Entry
	scan ScanFunc

	keys     KeyMap
	capacity int
	interval time.Duration

	entries  []Entry
	counters Counters
	snapshot *Snapshot
	scanErr  error

	filter      *Filter
	filterInput textinput.Model
	filterErr   string
	editing     bool

	status   string
	feedDone bool

	width  int
	height int
}

// ModelOption customizes the monitor model.
type ModelOption func(*Model)

// WithScanInterval overrides how often the sessions pane refreshes.
func WithScanInterval(d time.Duration) ModelOption {
	return func(m *Model) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithFeedCapacity bounds how many feed entries the model retains.
func WithFeedCapacity(n int) ModelOption {
	return func(m *Model) {
		if n > 0 {
			m.capacity = n
		}
	}
}

// NewModel builds the monitor model. Entries arriving on feed fill the
// message pane; scan, when non-nil, refreshes the sessions pane.
func NewModel(feed <-chan Entry, scan ScanFunc, opts ...ModelOption) Model {
	ti := textinput.New()
	ti.Prompt = "/ "
	ti.Placeholder = `type == "report" and sender startsWith "child"`
	ti.PromptStyle = lipgloss.NewStyle().Foreground(colorBlue)
	ti.TextStyle = lipgloss.NewStyle().Foreground(colorText)

	m := Model{
		feed:        feed,
		scan:        scan,
		keys:        DefaultKeyMap(),
		capacity:    defaultFeedCapacity,
		interval:    defaultScanInterval,
		filterInput: ti,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Entries returns the retained feed entries, oldest first.
func (m Model) Entries() []Entry { return m.entries }

// Filter returns the active feed filter, nil when unfiltered.
func (m Model) Filter() *Filter { return m.filter }

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tea.SetWindowTitle("agentmon")}
	if m.feed != nil {
		cmds = append(cmds, listenEntries(m.feed))
	}
	if m.scan != nil {
		cmds = append(cmds, m.scanNow())
	}
	return tea.Batch(cmds...)
}

func listenEntries(feed <-chan Entry) tea.Cmd {
	return func() tea.Msg {
		entry, ok := <-feed
		if !ok {
			return feedClosedMsg{}
		}
		return entryMsg(entry)
	}
}

func (m Model) scanNow() tea.Cmd {
	scan := m.scan
	return func() tea.Msg {
		snap, err := scan(context.Background())
		if err != nil {
			return scanErrMsg{err: err}
		}
		return snapshotMsg{snap: snap}
	}
}

func (m Model) scheduleScan() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return scanTickMsg(t)
	})
}

func exportCmd(path string, entries []Entry) tea.Cmd {
	return func() tea.Msg {
		return exportDoneMsg{path: path, err: ExportFeed(path, entries)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if m.editing {
			return m.updateFilterInput(msg)
		}
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Filter):
			m.editing = true
			m.filterErr = ""
			m.filterInput.SetValue(m.filter.Source())
			m.filterInput.CursorEnd()
			return m, m.filterInput.Focus()
		case key.Matches(msg, m.keys.Export):
			if len(m.entries) == 0 {
				m.status = "nothing to export"
				return m, nil
			}
			path := DefaultExportPath(time.Now())
			return m, exportCmd(path, m.visibleEntries())
		case key.Matches(msg, m.keys.Clear):
			m.entries = nil
			m.counters = Counters{}
			m.status = "feed cleared"
			return m, nil
		}
		return m, nil

	case entryMsg:
		e := Entry(msg)
		m.counters.Observe(e)
		m.entries = append(m.entries, e)
		if len(m.entries) > m.capacity {
			m.entries = m.entries[len(m.entries)-m.capacity:]
		}
		return m, listenEntries(m.feed)

	case feedClosedMsg:
		m.feedDone = true
		return m, nil

	case snapshotMsg:
		m.snapshot = msg.snap
		m.scanErr = nil
		return m, m.scheduleScan()

	case scanErrMsg:
		m.scanErr = msg.err
		return m, m.scheduleScan()

	case scanTickMsg:
		if m.scan == nil {
			return m, nil
		}
		return m, m.scanNow()

	case exportDoneMsg:
		if msg.err != nil {
			m.status = "export failed: " + msg.err.Error()
		} else {
			m.status = "exported to " + msg.path
		}
		return m, nil
	}
	return m, nil
}

func (m Model) updateFilterInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		src := strings.TrimSpace(m.filterInput.Value())
		if src == "" {
			m.filter = nil
			m.filterErr = ""
			m.editing = false
			m.filterInput.Blur()
			return m, nil
		}
		f, err := CompileFilter(src)
		if err != nil {
			m.filterErr = err.Error()
			return m, nil
		}
		m.filter = f
		m.filterErr = ""
		m.editing = false
		m.filterInput.Blur()
		return m, nil
	case "esc":
		m.editing = false
		m.filterErr = ""
		m.filterInput.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.filterInput, cmd = m.filterInput.Update(msg)
	return m, cmd
}

func (m Model) visibleEntries() []Entry {
	if m.filter == nil {
		return m.entries
	}
	var out []Entry
	for _, e := range m.entries {
		if m.filter.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

func (m Model) View() string {
	width := m.width
	if width <= 0 {
		width = 100
	}
	height := m.height
	if height <= 0 {
		height = 30
	}

	title := titleStyle.Render("agentmon") + dimStyle.Render("  live session monitor")

	footer := m.viewFooter(width)
	body := height - lipgloss.Height(title) - lipgloss.Height(footer)
	if m.editing {
		body -= 2
	}
	if body < 6 {
		body = 6
	}

	sessionsWidth := 40
	if sessionsWidth > width/2 {
		sessionsWidth = width / 2
	}
	feedWidth := width - sessionsWidth - 2

	panes := lipgloss.JoinHorizontal(lipgloss.Top,
		m.viewSessions(sessionsWidth, body),
		m.viewFeed(feedWidth, body),
	)

	parts := []string{title, panes}
	if m.editing {
		parts = append(parts, m.viewFilterInput())
	}
	parts = append(parts, footer)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) viewSessions(width, height int) string {
	var b strings.Builder
	b.WriteString(paneTitleStyle.Render("sessions"))
	b.WriteString("\n")

	switch {
	case m.scanErr != nil:
		b.WriteString(errorStyle.Render("scan failed"))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(truncate(m.scanErr.Error(), width-4)))
	case m.snapshot == nil:
		b.WriteString(emptyStyle.Render("scanning..."))
	case len(m.snapshot.Sessions) == 0:
		b.WriteString(emptyStyle.Render("no live sessions"))
	default:
		for _, st := range m.snapshot.Sessions {
			b.WriteString(sessionNameStyle.Render(truncate(st.Config.Prefix, width-4)))
			b.WriteString("\n")
			detail := fmt.Sprintf("%s · children %d · queued %d · unread %d",
				st.Config.Mode, st.Config.MaxChildren, st.Pending(), st.Unread())
			b.WriteString(dimStyle.Render(truncate(detail, width-4)))
			b.WriteString("\n")
		}
		b.WriteString(dimStyle.Render("as of " + m.snapshot.Taken.Format("15:04:05")))
	}

	return paneStyle.Width(width).Height(height).Render(b.String())
}

func (m Model) viewFeed(width, height int) string {
	var b strings.Builder
	b.WriteString(paneTitleStyle.Render("feed"))
	if m.filter != nil {
		b.WriteString(dimStyle.Render("  filter: " + truncate(m.filter.Source(), width/2)))
	}
	b.WriteString("\n")

	visible := m.visibleEntries()
	rows := height - 3
	if rows < 1 {
		rows = 1
	}
	if len(visible) > rows {
		visible = visible[len(visible)-rows:]
	}
	if len(visible) == 0 {
		b.WriteString(emptyStyle.Render("waiting for messages"))
	}
	for i, e := range visible {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(renderEntry(e, width-4))
	}

	return paneStyle.Width(width).Height(height).Render(b.String())
}

func renderEntry(e Entry, width int) string {
	ts := "--:--:--"
	if !e.Time.IsZero() {
		ts = e.Time.Format("15:04:05")
	}
	room := width - 28
	if room < 10 {
		room = 10
	}
	content := truncate(e.Content, room)
	if e.Kind == "report" && strings.HasPrefix(content, "failure") {
		content = failureStyle.Render(content)
	}
	return fmt.Sprintf("%s %s %-8s %s",
		dimStyle.Render(ts),
		senderStyle(e.Sender).Render(fmt.Sprintf("%-9s", truncate(e.Sender, 9))),
		e.Kind,
		content,
	)
}

func (m Model) viewFilterInput() string {
	out := m.filterInput.View()
	if m.filterErr != "" {
		out += "\n" + errorStyle.Render(truncate(m.filterErr, 120))
	}
	return out
}

func (m Model) viewFooter(width int) string {
	left := m.counters.Summary()
	if m.status != "" {
		left += " · " + m.status
	}
	if m.feedDone {
		left += " · feed closed"
	}
	help := "/ filter · e export · c clear · q quit"
	gap := width - lipgloss.Width(left) - lipgloss.Width(help) - 4
	if gap < 1 {
		gap = 1
	}
	return footerStyle.Width(width).Render(left + strings.Repeat(" ", gap) + help)
}
