package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/harrisonrobin/wurk2do/pkg/model"
	"github.com/harrisonrobin/wurk2do/pkg/syncer"
)

var (
	dayStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	doneStyle     = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	idStyle       = lipgloss.NewStyle().Faint(true)
	priorityStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	emptyStyle    = lipgloss.NewStyle().Faint(true).Italic(true)
	errorStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func renderWeek(w io.Writer, c *model.WeeklyTaskCollection, days []model.Weekday, showIDs bool) {
	for i, day := range days {
		if i > 0 {
			fmt.Fprintln(w)
		}
		tasks := c.Tasks[day]
		fmt.Fprintf(w, "%s (%d)\n", dayStyle.Render(string(day)), len(tasks))
		if len(tasks) == 0 {
			fmt.Fprintf(w, "  %s\n", emptyStyle.Render("no tasks"))
			continue
		}
		for _, task := range tasks {
			fmt.Fprintf(w, "  %s\n", renderTask(task, showIDs))
		}
	}
}

func renderTask(task model.TaskRecord, showIDs bool) string {
	box := "[ ]"
	text := task.Text
	if task.Completed {
		box = "[x]"
		text = doneStyle.Render(text)
	}
	parts := []string{box}
	if showIDs {
		parts = append(parts, idStyle.Render(task.ID))
	}
	parts = append(parts, text)
	if task.Priority > 0 {
		parts = append(parts, priorityStyle.Render(strings.Repeat("!", task.Priority)))
	}
	if task.EstimatedHours > 0 {
		parts = append(parts, strconv.FormatFloat(task.EstimatedHours, 'f', -1, 64)+"h")
	}
	return strings.Join(parts, " ")
}

func renderStatus(w io.Writer, res syncer.Result, st syncer.Status) {
	switch st.State {
	case syncer.StateError:
		fmt.Fprintf(w, "%s %s\n", errorStyle.Render("sync failed:"), st.LastError)
		return
	case syncer.StateSuccess:
	default:
		fmt.Fprintf(w, "sync %s\n", st.State)
		return
	}

	var notes []string
	switch {
	case res.Dropped:
		notes = append(notes, "another sync was running")
	case res.Unchanged:
		notes = append(notes, "already up to date")
	default:
		if res.RemoteAbsent {
			notes = append(notes, "no remote data yet")
		}
		if res.LocalReplaced {
			notes = append(notes, fmt.Sprintf("local updated (%d from remote)", res.Stats.RemoteOnly+res.Stats.RemoteWins))
		}
		if res.Uploaded {
			notes = append(notes, "uploaded")
		}
		if res.UploadSkipped {
			notes = append(notes, "upload skipped")
		}
	}
	fmt.Fprintf(w, "%s %s (%s)\n", okStyle.Render("synced"), st.Identity, strings.Join(notes, ", "))
}
