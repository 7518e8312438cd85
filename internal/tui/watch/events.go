package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/runway/internal/events"
)

// maxEventLog bounds the event log kept for the stream panel.
const maxEventLog = 50

func renderEventStream(eventLog []events.Event, limit int, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= limit {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Local().Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.RunStarted:
		typeStyle = theme.StatusRunning
	case events.JobQueued:
		typeStyle = theme.StatusQueued
	case events.JobSkipped:
		typeStyle = theme.StatusSkipped
	case events.RunCompleted, events.JobCompleted:
		typeStyle = theme.resultStyle(eventResult(e))
	default:
		typeStyle = theme.Dim
	}

	return fmt.Sprintf("%s %s %s", ts, typeStyle.Render(fmt.Sprintf("%-14s", e.Type)), describeEvent(e))
}

func eventResult(e events.Event) string {
	var d struct {
		Result string `json:"result"`
	}
	_ = json.Unmarshal(e.Data, &d)
	return d.Result
}

// describeEvent summarizes the payload in one line.
func describeEvent(e events.Event) string {
	var d struct {
		events.RunData
		JobID  string `json:"job_id"`
		Job    string `json:"job"`
		Name   string `json:"name"`
		Result string `json:"result"`
	}
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return truncate(string(e.Data), 60)
	}

	var parts []string
	if d.RunID != "" {
		parts = append(parts, fmt.Sprintf("[%s]", shortID(d.RunID)))
	}
	switch {
	case d.Name != "":
		parts = append(parts, d.Name)
	case d.Job != "":
		parts = append(parts, d.Job)
	case d.Workflow != "":
		parts = append(parts, fmt.Sprintf("%s #%d", d.Workflow, d.RunNumber))
	}
	if d.Result != "" {
		parts = append(parts, d.Result)
	}
	if len(parts) == 0 {
		return truncate(string(e.Data), 60)
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
