package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/runway/internal/events"
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	client *client

	width  int
	height int

	// State
	health   HealthState
	runs     map[string]*RunState
	order    []*RunState
	eventLog []events.Event

	// Live indicators
	ticker   Ticker
	activity Activity
	now      func() time.Time

	// UI state
	theme Theme
	table table.Model

	// Communication
	hubEvents chan events.Event

	// Error display
	lastError string
}

// New creates a watch model for the API at apiURL. token may be empty for
// an open API.
func New(apiURL, token string) Model {
	return Model{
		client:    newClient(apiURL, token),
		runs:      make(map[string]*RunState),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		ticker:    NewTicker(),
		now:       time.Now,
		theme:     NewDefaultTheme(),
		table:     newRunTable(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.client.subscribeToEvents(0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.client.fetchHealth,
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(max(msg.Width-8, 20))

	case tickMsg:
		m.ticker.Tick()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)

		// newest first
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.activity.OnEvent(m.now())

		updateRunState(m.runs, e)
		m.refreshRuns()

		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.QueueDepth = msg.QueueDepth
		m.health.ActiveRuns = msg.ActiveRuns
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""

		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return m.client.fetchHealth()
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		// The pending receiveNextEvent keeps waiting on the channel and
		// picks up events from the new subscription.
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg(msg)
		})

	case reconnectMsg:
		return m, m.client.subscribeToEvents(msg.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return m.client.fetchHealth()
		})
	}

	return m, nil
}

// refreshRuns keeps the table rows in step with the run map while holding
// the cursor on the same run.
func (m *Model) refreshRuns() {
	selected := m.selectedRun()
	m.order = sortedRuns(m.runs)
	m.table.SetRows(runRows(m.order))
	if selected == nil {
		return
	}
	for i, r := range m.order {
		if r.ID == selected.ID {
			m.table.SetCursor(i)
			return
		}
	}
}

func (m Model) selectedRun() *RunState {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.order) {
		return nil
	}
	return m.order[i]
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to runway..."
	}
	now := m.now()

	parts := []string{
		renderHeader(m.health, m.ticker, m.activity, m.theme, m.width, now),
		renderRuns(m.table, len(m.order), m.theme, m.width),
	}
	if jobs := renderJobs(m.selectedRun(), m.theme, m.width, now); jobs != "" {
		parts = append(parts, jobs)
	}
	parts = append(parts, renderEventStream(m.eventLog, 8, m.theme, m.width))

	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Select run"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
