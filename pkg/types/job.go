package types

import (
	"encoding/json"
	"time"
)

// DefaultAction is used when a job definition omits its action
const DefaultAction = "main"

// JobDefinition represents a named schedule entry for the current invocation
type JobDefinition struct {
	Name       string          `json:"name"`
	Interval   string          `json:"interval"`
	Task       string          `json:"task"`
	Action     string          `json:"action"`
	Args       []any           `json:"args"`
	LastRun    *time.Time      `json:"lastRun"`
	LastResult json.RawMessage `json:"lastResult"`
}

// RunRecord is the persisted counterpart of a JobDefinition
type RunRecord struct {
	Name       string          `json:"name"`
	Interval   string          `json:"interval"`
	Task       string          `json:"task"`
	Action     string          `json:"action"`
	Args       []any           `json:"args"`
	LastRun    *time.Time      `json:"lastRun"`
	LastResult json.RawMessage `json:"lastResult"`
}

// EmptyResult is the lastResult of a job that has never run
var EmptyResult = json.RawMessage(`""`)

// Record snapshots the live definition into a fresh record.
func (j JobDefinition) Record() *RunRecord {
	args := j.Args
	if args == nil {
		args = []any{}
	}
	result := j.LastResult
	if len(result) == 0 {
		result = EmptyResult
	}
	return &RunRecord{
		Name:       j.Name,
		Interval:   j.Interval,
		Task:       j.Task,
		Action:     j.Action,
		Args:       args,
		LastRun:    j.LastRun,
		LastResult: result,
	}
}

// HasRun reports whether the record carries a completed run.
func (r *RunRecord) HasRun() bool {
	return r != nil && r.LastRun != nil
}

// JobError is the lastResult marker for a job that failed during a pass
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorResult wraps a JobError so it can be told apart from a task's own return value
type ErrorResult struct {
	Error JobError `json:"error"`
}
