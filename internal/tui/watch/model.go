package watch

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/agentbeats/gaiaboard/internal/events"
)

// levels and splits the tab key cycles through, in order.
var (
	watchLevels = []int{1, 2, 3}
	watchSplits = []string{"validation", "test"}
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	token  string

	width  int
	height int

	// State
	health   HealthState
	board    BoardState
	eventLog []events.Event

	// Live indicators
	ticker  Ticker
	spinner Spinner

	// UI state
	theme Theme
	view  string // "agent" or "team"
	level int
	split string

	// Communication
	hubEvents chan events.Event

	// Error display
	lastError string
}

// New creates a new watch TUI model.
func New(apiURL, token string) *Model {
	return &Model{
		apiURL:    apiURL,
		token:     token,
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		ticker:    NewTicker(),
		spinner:   NewSpinner(),
		theme:     NewDefaultTheme(),
		view:      "agent",
		level:     1,
		split:     "validation",
		board:     NewBoardState(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.token, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		fetchBoard(m.apiURL, m.view, m.level, m.split),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, fetchBoard(m.apiURL, m.view, m.level, m.split)
		case "v":
			if m.view == "agent" {
				m.view = "team"
			} else {
				m.view = "agent"
			}
			return m, fetchBoard(m.apiURL, m.view, m.level, m.split)
		case "tab":
			m.level, m.split = nextPair(m.level, m.split)
			return m, fetchBoard(m.apiURL, m.view, m.level, m.split)
		case "up", "k", "down", "j":
			var cmd tea.Cmd
			m.board.table, cmd = m.board.table.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.board.Resize(msg.Width)

	case tickMsg:
		m.ticker.Tick()
		m.spinner.Decay()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)

		// Update event log (newest first)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > 50 {
			m.eventLog = m.eventLog[:50]
		}

		m.spinner.OnEvent()
		m.health.Connected = true
		m.lastError = ""

		// A landed refresh means the current view may be stale.
		if e.Type == events.TypeLeaderboardRefreshed {
			return m, tea.Batch(
				receiveNextEvent(m.hubEvents),
				fetchBoard(m.apiURL, m.view, m.level, m.split),
			)
		}
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.TotalSubmissions = msg.TotalSubmissions
		m.health.TotalAgents = msg.TotalAgents
		m.health.LastRefreshedAt = msg.LastRefreshedAt
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""

		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})

	case boardMsg:
		// Ignore stale responses from before a view/pair switch.
		if msg.View == m.view && msg.Level == m.level && msg.Split == m.split {
			m.board.SetEntries(msg.Entries)
		}
		return m, nil

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		// Reconnect after a short delay; the existing receiveNextEvent
		// goroutine is still waiting on the channel and will pick up
		// events from the new subscription.
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.token, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		// Retry health in 5s
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to leaderboard..."
	}

	header := renderHeader(m.health, m.ticker, m.spinner, m.theme, m.width)
	board := m.board.Render(m.view, m.level, m.split, m.theme, m.width)
	feed := renderEventFeed(m.eventLog, m.theme, m.width)

	// Error bar
	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusRejected.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [r] Refetch • [v] Agent/Team • [tab] Level/Split • [↑/↓] Scroll")

	parts := []string{header, board, feed}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

// nextPair advances through (level, split) combinations: splits first, then
// levels, wrapping around.
func nextPair(level int, split string) (int, string) {
	si := 0
	for i, s := range watchSplits {
		if s == split {
			si = i
			break
		}
	}
	si++
	if si < len(watchSplits) {
		return level, watchSplits[si]
	}

	li := 0
	for i, l := range watchLevels {
		if l == level {
			li = i
			break
		}
	}
	return watchLevels[(li+1)%len(watchLevels)], watchSplits[0]
}
