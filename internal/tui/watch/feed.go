package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/agentbeats/gaiaboard/internal/events"
)

func renderEventFeed(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("SUBMISSION FEED"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 8 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("SUBMISSION FEED"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.TypeSubmissionStored, events.TypeLeaderboardRefreshed:
		typeStyle = theme.StatusOK
	case events.TypeSubmissionRejected:
		typeStyle = theme.StatusRejected
	case events.TypeSubmissionVerified:
		typeStyle = theme.StatusVerified
	case events.TypeWebhookReceived:
		typeStyle = theme.StatusStored
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-22s", e.Type))
	desc := extractEventDesc(e)

	return fmt.Sprintf("%s %s %s", ts, typeName, desc)
}

func extractEventDesc(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string

	if id, ok := data["submission_id"].(string); ok {
		parts = append(parts, fmt.Sprintf("[%s]", id))
	} else if id, ok := data["delivery_id"].(string); ok {
		short := id
		if len(short) > 8 {
			short = short[:8]
		}
		parts = append(parts, fmt.Sprintf("[%s]", short))
	}

	if agent, ok := data["agent"].(string); ok && agent != "" {
		parts = append(parts, agent)
	}
	if repo, ok := data["repo"].(string); ok && repo != "" {
		parts = append(parts, repo)
	}
	if level, ok := data["level"].(float64); ok {
		pair := fmt.Sprintf("L%d", int(level))
		if split, ok := data["split"].(string); ok {
			pair += "/" + split
		}
		parts = append(parts, pair)
	}
	if acc, ok := data["accuracy"].(float64); ok {
		parts = append(parts, fmt.Sprintf("%.1f%%", acc))
	}
	if errText, ok := data["error"].(string); ok && errText != "" {
		parts = append(parts, errText)
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	return strings.Join(parts, " ")
}
