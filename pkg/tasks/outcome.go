package tasks

import (
	"fmt"
	"strings"
	"time"
)

// Status is the classified result of one task.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusWarning   Status = "warning"
)

// Outcome is the immutable record produced for one task of a phase.
// Lines holds the report lines rendered for the task, in order.
type Outcome struct {
	Index    int           `json:"index" bson:"index"`
	Type     string        `json:"type" bson:"type"`
	Status   Status        `json:"status" bson:"status"`
	Message  string        `json:"message" bson:"message"`
	Lines    []string      `json:"lines,omitempty" bson:"lines,omitempty"`
	Duration time.Duration `json:"duration" bson:"duration"`
}

// Succeeded reports whether the task completed successfully.
func (o Outcome) Succeeded() bool { return o.Status == StatusSucceeded }

// Report is the ordered result of running one phase.
type Report struct {
	Phase    string    `json:"phase" bson:"phase"`
	Outcomes []Outcome `json:"outcomes" bson:"outcomes"`
	Text     string    `json:"text" bson:"text"`
}

// NoTasksMessage is the report text for a phase without tasks.
func NoTasksMessage(phase string) string {
	return "No tasks found for section: " + phase
}

// NewReport renders outcomes into a report. Each task contributes a header
// line, its own lines and a blank separator.
func NewReport(phase string, outcomes []Outcome) *Report {
	r := &Report{Phase: phase, Outcomes: outcomes}
	if len(outcomes) == 0 {
		r.Text = NoTasksMessage(phase)
		return r
	}
	var b strings.Builder
	for _, o := range outcomes {
		fmt.Fprintf(&b, "Task #%d: type = %s\n", o.Index, o.Type)
		for _, line := range o.Lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	r.Text = b.String()
	return r
}

// Failed returns the number of failed outcomes.
func (r *Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			n++
		}
	}
	return n
}

func (r *Report) String() string { return r.Text }
