package runner

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusCompleted      Status = "completed"
	StatusAlreadyRunning Status = "already_running"
)

type Outcome string

const (
	OutcomeRan     Outcome = "ran"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
	// OutcomeDue is reported by dry runs for jobs that would have run.
	OutcomeDue Outcome = "due"
)

// JobResult describes what a pass did with one job.
type JobResult struct {
	Name     string          `json:"name"`
	Task     string          `json:"task"`
	Action   string          `json:"action"`
	Outcome  Outcome         `json:"outcome"`
	NextDue  *time.Time      `json:"next_due,omitempty"`
	LastRun  *time.Time      `json:"last_run,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Duration time.Duration   `json:"duration"`
	Err      error           `json:"-"`
}

// Error returns the job's error message, or "" when it did not fail.
func (j JobResult) Error() string {
	if j.Err == nil {
		return ""
	}
	return j.Err.Error()
}

type Result struct {
	Status     Status      `json:"status"`
	DryRun     bool        `json:"dry_run"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Jobs       []JobResult `json:"jobs"`
}

func (r *Result) filter(o Outcome) []JobResult {
	var out []JobResult
	for _, j := range r.Jobs {
		if j.Outcome == o {
			out = append(out, j)
		}
	}
	return out
}

func (r *Result) Ran() []JobResult     { return r.filter(OutcomeRan) }
func (r *Result) Skipped() []JobResult { return r.filter(OutcomeSkipped) }
func (r *Result) Failed() []JobResult  { return r.filter(OutcomeFailed) }
func (r *Result) Due() []JobResult     { return r.filter(OutcomeDue) }

// Job returns the outcome for name.
func (r *Result) Job(name string) (JobResult, bool) {
	for _, j := range r.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return JobResult{}, false
}
