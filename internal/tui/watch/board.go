package watch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/agentbeats/gaiaboard/internal/leaderboard"
)

// BoardState holds the ranked rows for the currently selected view.
type BoardState struct {
	table   table.Model
	entries []*leaderboard.Entry
}

func NewBoardState() BoardState {
	columns := []table.Column{
		{Title: "Rank", Width: 5},
		{Title: "Name", Width: 24},
		{Title: "Accuracy", Width: 9},
		{Title: "Score", Width: 8},
		{Title: "Avg s/task", Width: 10},
		{Title: "Model", Width: 18},
		{Title: "Verified", Width: 8},
	}

	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#874BFD"))

	t := table.New(
		table.WithColumns(columns),
		table.WithHeight(10),
		table.WithFocused(true),
		table.WithStyles(styles),
	)
	return BoardState{table: t}
}

// SetEntries replaces the displayed rows.
func (b *BoardState) SetEntries(entries []*leaderboard.Entry) {
	b.entries = entries

	rows := make([]table.Row, 0, len(entries))
	for _, e := range entries {
		verified := ""
		if e.Verified {
			verified = "✓"
		}
		avgTime := ""
		if e.AverageTimePerTask > 0 {
			avgTime = fmt.Sprintf("%.1f", e.AverageTimePerTask)
		}
		rows = append(rows, table.Row{
			strconv.Itoa(e.Rank),
			e.Name,
			fmt.Sprintf("%.1f%%", e.Accuracy),
			e.Score(),
			avgTime,
			e.ModelUsed,
			verified,
		})
	}
	b.table.SetRows(rows)
}

// Resize adjusts the table to the terminal width.
func (b *BoardState) Resize(width int) {
	inner := width - 8
	if inner < 40 {
		inner = 40
	}
	// Name and model columns absorb the slack.
	cols := b.table.Columns()
	fixed := 0
	for _, c := range cols {
		if c.Title != "Name" && c.Title != "Model" {
			fixed += c.Width
		}
	}
	slack := inner - fixed
	if slack < 20 {
		slack = 20
	}
	for i := range cols {
		switch cols[i].Title {
		case "Name":
			cols[i].Width = slack * 3 / 5
		case "Model":
			cols[i].Width = slack * 2 / 5
		}
	}
	b.table.SetColumns(cols)
}

// Render draws the board pane with its title bar.
func (b *BoardState) Render(view string, level int, split string, theme Theme, width int) string {
	innerWidth := width - 4

	title := fmt.Sprintf("LEADERBOARD  %s · level %d · %s",
		strings.ToUpper(view), level, split)

	if len(b.entries) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render(title),
			theme.Dim.Render("  No entries yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render(title),
		b.table.View(),
	)
	return theme.Border.Width(innerWidth).Render(content)
}
