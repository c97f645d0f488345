// Package tui is the interactive alert browser of the CLI.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sznuper/overwatch/internal/check"
)

// Source lists open alerts and resolves them on behalf of a user.
type Source interface {
	ListAlerts(ctx context.Context) ([]check.Alert, error)
	Resolve(ctx context.Context, keys []check.Key, user string) ([]*check.Result, error)
}

type alertsMsg struct {
	alerts []check.Alert
	err    error
}

type resolvedMsg struct {
	n   int
	err error
}

// Model browses open alerts. Space or x marks rows, r resolves the marked
// rows (or the one under the cursor), R reloads, q quits.
type Model struct {
	ctx    context.Context
	src    Source
	user   string
	table  table.Model
	alerts []check.Alert
	marked map[check.Key]bool
	status string
}

var columns = []table.Column{
	{Title: " ", Width: 1},
	{Title: "Check", Width: 20},
	{Title: "Target", Width: 20},
	{Title: "Status", Width: 6},
	{Title: "Code", Width: 5},
	{Title: "Since", Width: 19},
	{Title: "Output", Width: 40},
}

func New(ctx context.Context, src Source, user string) Model {
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).Bold(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	return Model{
		ctx:    ctx,
		src:    src,
		user:   user,
		table:  t,
		marked: map[check.Key]bool{},
	}
}

func (m Model) Init() tea.Cmd { return m.load }

func (m Model) load() tea.Msg {
	alerts, err := m.src.ListAlerts(m.ctx)
	return alertsMsg{alerts: alerts, err: err}
}

func (m Model) resolve(keys []check.Key) tea.Cmd {
	return func() tea.Msg {
		out, err := m.src.Resolve(m.ctx, keys, m.user)
		return resolvedMsg{n: len(out), err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case alertsMsg:
		if msg.err != nil {
			m.status = "loading alerts: " + msg.err.Error()
			return m, nil
		}
		m.alerts = msg.alerts
		for k := range m.marked {
			if !m.has(k) {
				delete(m.marked, k)
			}
		}
		m.refresh()
		return m, nil

	case resolvedMsg:
		if msg.err != nil {
			m.status = "resolving: " + msg.err.Error()
		} else {
			m.status = fmt.Sprintf("resolved %d alert(s)", msg.n)
		}
		clear(m.marked)
		return m, m.load

	case tea.WindowSizeMsg:
		if h := msg.Height - 6; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case " ", "x":
			if k, ok := m.current(); ok {
				m.marked[k] = !m.marked[k]
				if !m.marked[k] {
					delete(m.marked, k)
				}
				m.refresh()
			}
			return m, nil
		case "r":
			keys := m.selection()
			if len(keys) == 0 {
				return m, nil
			}
			m.status = fmt.Sprintf("resolving %d alert(s)...", len(keys))
			return m, m.resolve(keys)
		case "R":
			return m, m.load
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) has(k check.Key) bool {
	for _, a := range m.alerts {
		if a.Key() == k {
			return true
		}
	}
	return false
}

func (m Model) current() (check.Key, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.alerts) {
		return check.Key{}, false
	}
	return m.alerts[i].Key(), true
}

// selection returns the marked alerts in table order, or the alert under
// the cursor when nothing is marked.
func (m Model) selection() []check.Key {
	var keys []check.Key
	for _, a := range m.alerts {
		if m.marked[a.Key()] {
			keys = append(keys, a.Key())
		}
	}
	if len(keys) == 0 {
		if k, ok := m.current(); ok {
			keys = append(keys, k)
		}
	}
	return keys
}

func (m *Model) refresh() {
	rows := make([]table.Row, len(m.alerts))
	for i, a := range m.alerts {
		mark := " "
		if m.marked[a.Key()] {
			mark = "*"
		}
		out := strings.TrimSpace(strings.ReplaceAll(a.Stdout+" "+a.Stderr, "\n", " "))
		rows[i] = table.Row{
			mark,
			a.Check,
			a.Target,
			a.Status.String(),
			fmt.Sprint(a.ReturnCode),
			a.Created.Local().Format("2006-01-02 15:04:05"),
			out,
		}
	}
	m.table.SetRows(rows)
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Open alerts (%d)", len(m.alerts))))
	b.WriteString("\n")
	b.WriteString(baseStyle.Render(m.table.View()))
	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(m.status + "\n")
	}
	b.WriteString(helpStyle.Render("↑/↓ move • space mark • r resolve • R reload • q quit"))
	b.WriteString("\n")
	return b.String()
}

// Run shows the browser until the user quits or ctx ends.
func Run(ctx context.Context, src Source, user string) error {
	_, err := tea.NewProgram(New(ctx, src, user), tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
