package pipeline

import (
	"fmt"
	"io"
	"strings"
	"time"

	"vortex-thunder/internal/models"
	"vortex-thunder/internal/packager"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
)

// ModStatus is the outcome of one mod in one run.
type ModStatus struct {
	ModID           int
	Name            string
	State           models.ModState
	Version         string
	PreviousVersion string
	Archive         string
	Digest          string
	Note            string
	Err             error
	Pending         []packager.PendingDependency
}

// Report accumulates statuses for the end-of-run summary.
type Report struct {
	RunID    uuid.UUID
	Started  time.Time
	Finished time.Time
	Statuses []ModStatus
}

func NewReport(started time.Time) *Report {
	return &Report{RunID: uuid.New(), Started: started}
}

func (r *Report) Add(s ModStatus) {
	r.Statuses = append(r.Statuses, s)
}

// Summary counts statuses per state.
func (r *Report) Summary() map[models.ModState]int {
	out := make(map[models.ModState]int)
	for _, s := range r.Statuses {
		out[s.State]++
	}
	return out
}

// Failures returns the statuses that ended in a failure state.
func (r *Report) Failures() []ModStatus {
	var out []ModStatus
	for _, s := range r.Statuses {
		if s.State.Failed() {
			out = append(out, s)
		}
	}
	return out
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	neutralStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))

	summaryOrder = []models.ModState{
		models.StateDone, models.StateUpToDate, models.StateNoFiles, models.StateSkipped,
		models.StateFetchFailed, models.StateDownloadFailed, models.StatePackagingFailed, models.StateUploadFailed,
	}
)

// Render writes a human readable report. Colour is only applied when color is set.
func (r *Report) Render(w io.Writer, color bool) error {
	paint := func(st lipgloss.Style, s string) string {
		if !color {
			return s
		}
		return st.Render(s)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", paint(headerStyle, fmt.Sprintf("Processing report (run %s)", r.RunID)))
	for _, s := range r.Statuses {
		st := neutralStyle
		switch {
		case s.State == models.StateDone:
			st = doneStyle
		case s.State.Failed():
			st = failStyle
		}
		line := fmt.Sprintf("  %-16s %s (%d)", s.State, s.Name, s.ModID)
		if v := versionLabel(s); v != "" {
			line += " " + v
		}
		fmt.Fprintf(&b, "%s\n", paint(st, line))
		if s.Note != "" {
			fmt.Fprintf(&b, "      %s\n", s.Note)
		}
		if s.Err != nil {
			fmt.Fprintf(&b, "      error: %v\n", s.Err)
		}
		for _, pd := range s.Pending {
			fmt.Fprintf(&b, "      %s\n", paint(warnStyle, "pending dependency: "+pd.String()))
		}
	}

	counts := r.Summary()
	var parts []string
	for _, st := range summaryOrder {
		if n := counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", st, n))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "no mods processed")
	}
	fmt.Fprintf(&b, "%s %s\n", paint(headerStyle, "Summary:"), strings.Join(parts, " "))
	if !r.Finished.IsZero() {
		fmt.Fprintf(&b, "Took %s\n", r.Finished.Sub(r.Started).Round(time.Millisecond))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func versionLabel(s ModStatus) string {
	switch {
	case s.Version == "":
		return ""
	case s.PreviousVersion != "" && s.PreviousVersion != s.Version:
		return fmt.Sprintf("%s -> %s", s.PreviousVersion, s.Version)
	default:
		return s.Version
	}
}
