package model

import (
	"fmt"
	"strings"
	"time"
)

// JobMetadata captures the state of a single job within a running workflow.
type JobMetadata struct {
	ID     string     `json:"id"`
	Status TaskStatus `json:"status"`
	Start  *time.Time `json:"start,omitempty"`
	Finish *time.Time `json:"finish,omitempty"`
	Stdout string     `json:"stdout,omitempty"`
	Stderr string     `json:"stderr,omitempty"`
}

// TaskMetadata aggregates the overall task state plus per-job records.
type TaskMetadata struct {
	TID        string        `json:"tid"`
	EngineName string        `json:"engineName,omitempty"`
	EngineURL  string        `json:"engineUrl,omitempty"`
	Outdir     string        `json:"outdir,omitempty"`
	Status     TaskStatus    `json:"status"`
	Error      string        `json:"error,omitempty"`
	Jobs       []JobMetadata `json:"jobs,omitempty"`
}

// Format renders a progress snapshot suitable for printing on each poll
// iteration.
func (m TaskMetadata) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "TID:      %s\n", m.TID)
	if m.EngineName != "" {
		fmt.Fprintf(&b, "Engine:   %s", m.EngineName)
		if m.EngineURL != "" {
			fmt.Fprintf(&b, " (%s)", m.EngineURL)
		}
		b.WriteString("\n")
	}
	if m.Outdir != "" {
		fmt.Fprintf(&b, "Path:     %s\n", m.Outdir)
	}
	fmt.Fprintf(&b, "Status:   %s\n", m.Status)
	for _, j := range m.Jobs {
		fmt.Fprintf(&b, "  [%s] %s (%s)%s\n", j.Status.Symbol(), j.ID, j.Status, formatJobWindow(j))
	}
	if m.Error != "" {
		fmt.Fprintf(&b, "Error:    %s\n", m.Error)
	}
	return b.String()
}

func formatJobWindow(j JobMetadata) string {
	if j.Start == nil {
		return ""
	}
	if j.Finish == nil {
		return fmt.Sprintf(" started %s", j.Start.Format(time.RFC3339))
	}
	return fmt.Sprintf(" took %s", j.Finish.Sub(*j.Start).Round(time.Second))
}
