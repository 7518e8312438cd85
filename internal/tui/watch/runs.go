package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/runway/internal/events"
)

// maxRuns bounds how many runs the view remembers.
const maxRuns = 100

// RunState is a run reconstructed from lifecycle events.
type RunState struct {
	ID         string
	Workflow   string
	Repository string
	Event      string
	Ref        string
	Number     int64
	Result     string
	Started    time.Time
	Ended      time.Time

	// Jobs in the order they were first seen.
	Jobs  []*JobState
	index map[string]*JobState
}

// JobState is one job request, or one job skipped before expansion.
type JobState struct {
	ID     string
	Name   string
	Status string
	Result string
}

func (r *RunState) job(key string) *JobState {
	if j, ok := r.index[key]; ok {
		return j
	}
	j := &JobState{}
	r.index[key] = j
	r.Jobs = append(r.Jobs, j)
	return j
}

// Counts returns queued, completed and failed job counts.
func (r *RunState) Counts() (queued, done, failed int) {
	for _, j := range r.Jobs {
		switch j.Status {
		case events.JobQueued:
			queued++
		case events.JobCompleted:
			done++
			if j.Result == "failure" {
				failed++
			}
		}
	}
	return queued, done, failed
}

// updateRunState folds e into runs. Events for unknown runs create them, so
// a client connecting mid-run still shows its jobs.
func updateRunState(runs map[string]*RunState, e events.Event) {
	switch e.Type {
	case events.RunStarted, events.RunCompleted:
		var d events.RunData
		if err := json.Unmarshal(e.Data, &d); err != nil || d.RunID == "" {
			return
		}
		r := getOrCreateRun(runs, d.RunID, e.At)
		r.Workflow = d.Workflow
		r.Repository = d.Repository
		r.Event = d.Event
		r.Ref = d.Ref
		r.Number = d.RunNumber
		if e.Type == events.RunCompleted {
			r.Result = d.Result
			r.Ended = e.At
		}

	case events.JobQueued, events.JobSkipped, events.JobCompleted:
		var d events.JobData
		if err := json.Unmarshal(e.Data, &d); err != nil || d.RunID == "" {
			return
		}
		r := getOrCreateRun(runs, d.RunID, e.At)
		key := d.JobID
		if key == "" {
			key = "job:" + d.Job
		}
		j := r.job(key)
		j.ID = d.JobID
		j.Name = firstNonEmpty(d.DisplayName, d.Name, d.Job, j.Name)
		j.Status = e.Type
		switch e.Type {
		case events.JobSkipped:
			j.Result = "skipped"
		case events.JobCompleted:
			j.Result = d.Result
		}
	}
	pruneRuns(runs)
}

func getOrCreateRun(runs map[string]*RunState, id string, at time.Time) *RunState {
	r, ok := runs[id]
	if !ok {
		r = &RunState{ID: id, Started: at, index: make(map[string]*JobState)}
		runs[id] = r
	}
	return r
}

func pruneRuns(runs map[string]*RunState) {
	if len(runs) <= maxRuns {
		return
	}
	sorted := sortedRuns(runs)
	for _, r := range sorted[maxRuns:] {
		delete(runs, r.ID)
	}
}

// sortedRuns returns the newest run first.
func sortedRuns(runs map[string]*RunState) []*RunState {
	out := make([]*RunState, 0, len(runs))
	for _, r := range runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Started.Equal(out[j].Started) {
			return out[i].Started.After(out[j].Started)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func newRunTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "#", Width: 5},
			{Title: "Workflow", Width: 24},
			{Title: "Event", Width: 14},
			{Title: "Ref", Width: 22},
			{Title: "Jobs", Width: 12},
			{Title: "Result", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	t.SetStyles(styles)
	return t
}

func runRows(runs []*RunState) []table.Row {
	rows := make([]table.Row, 0, len(runs))
	for _, r := range runs {
		queued, done, failed := r.Counts()
		jobs := fmt.Sprintf("%d/%d", done, done+queued)
		if failed > 0 {
			jobs += fmt.Sprintf(" %d!", failed)
		}
		result := r.Result
		if result == "" {
			result = "running"
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", r.Number),
			r.Workflow,
			r.Event,
			strings.TrimPrefix(strings.TrimPrefix(r.Ref, "refs/heads/"), "refs/tags/"),
			jobs,
			result,
		})
	}
	return rows
}

func renderRuns(t table.Model, count int, theme Theme, width int) string {
	innerWidth := width - 4
	if count == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("RUNS"),
			theme.Dim.Render("  No runs yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}
	content := lipgloss.JoinVertical(lipgloss.Left, theme.Title.Render("RUNS"), t.View())
	return theme.Border.Width(innerWidth).Render(content)
}

func renderJobs(r *RunState, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4
	if r == nil {
		return ""
	}

	title := fmt.Sprintf("RUN %d  %s", r.Number, r.ID)
	lines := []string{theme.Title.Render(title)}
	if r.Repository != "" {
		lines = append(lines, theme.Dim.Render("  "+r.Repository))
	}
	elapsed := now.Sub(r.Started)
	if !r.Ended.IsZero() {
		elapsed = r.Ended.Sub(r.Started)
	}
	lines = append(lines, theme.Dim.Render("  elapsed "+formatDuration(elapsed)))

	if len(r.Jobs) == 0 {
		lines = append(lines, theme.Dim.Render("  No jobs yet..."))
	}
	for _, j := range r.Jobs {
		status := strings.TrimPrefix(j.Status, "job.")
		result := j.Result
		if result == "" {
			result = "-"
		}
		lines = append(lines, fmt.Sprintf("  %s %-28s %-10s %s",
			jobIcon(j, theme), j.Name, status, theme.resultStyle(j.Result).Render(result)))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func jobIcon(j *JobState, theme Theme) string {
	switch {
	case j.Status == events.JobQueued:
		return theme.StatusRunning.Render("◌")
	case j.Result == "success":
		return theme.StatusOK.Render("✔")
	case j.Result == "failure":
		return theme.StatusFailed.Render("✘")
	default:
		return theme.StatusSkipped.Render("·")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
