package runner

import (
	"encoding/json"
	"time"

	"github.com/0xPuncker/periodic/internal/interval"
	"github.com/0xPuncker/periodic/internal/registry"
	"github.com/0xPuncker/periodic/internal/store"
	"github.com/0xPuncker/periodic/pkg/types"
)

// JobStatus is a read-only view of one job combining the registry and the
// stored history.
type JobStatus struct {
	Name       string          `json:"name"`
	Interval   string          `json:"interval"`
	Task       string          `json:"task"`
	Action     string          `json:"action"`
	Registered bool            `json:"registered"`
	LastRun    *time.Time      `json:"last_run"`
	LastResult json.RawMessage `json:"last_result"`
	NextDue    *time.Time      `json:"next_due,omitempty"`
	Due        bool            `json:"due"`
	Failed     bool            `json:"failed"`
	Error      string          `json:"error,omitempty"`
}

// Inspect reports every registered job in registration order followed by
// store-only records in name order. It never writes.
func Inspect(reg *registry.Registry, snap store.Snapshot, eval *interval.Evaluator, now time.Time) []JobStatus {
	out := make([]JobStatus, 0, len(snap)+reg.Len())

	for _, job := range reg.Jobs() {
		rec := snap[job.Name]
		if rec == nil {
			rec = job.Record()
		}
		st := JobStatus{
			Name:       job.Name,
			Interval:   job.Interval,
			Task:       job.Task,
			Action:     job.Action,
			Registered: true,
			LastRun:    rec.LastRun,
			LastResult: rec.LastResult,
			Failed:     isErrorResult(rec.LastResult),
		}
		next, err := eval.NextDue(rec.LastRun, job.Interval)
		if err != nil {
			st.Error = err.Error()
		} else {
			st.NextDue = &next
			st.Due = !next.After(now)
		}
		out = append(out, st)
	}

	var orphans []string
	for _, name := range snap.Names() {
		if !reg.Has(name) {
			orphans = append(orphans, name)
		}
	}
	for _, name := range orphans {
		rec := snap[name]
		if rec == nil {
			continue
		}
		out = append(out, JobStatus{
			Name:       name,
			Interval:   rec.Interval,
			Task:       rec.Task,
			Action:     rec.Action,
			LastRun:    rec.LastRun,
			LastResult: rec.LastResult,
			Failed:     isErrorResult(rec.LastResult),
		})
	}
	return out
}

func isErrorResult(raw json.RawMessage) bool {
	var marker types.ErrorResult
	if err := json.Unmarshal(raw, &marker); err != nil {
		return false
	}
	return marker.Error.Kind != ""
}
