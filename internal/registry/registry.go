// Package registry holds the job definitions known to the current process.
package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/0xPuncker/periodic/pkg/types"
)

var (
	ErrDuplicateJob = errors.New("duplicate job name")
	ErrInvalidJob   = errors.New("invalid job definition")
)

// Registry is an ordered table of job definitions. Registration order is
// the order in which a pass evaluates jobs.
type Registry struct {
	jobs  []types.JobDefinition
	index map[string]int
}

func New() *Registry {
	return &Registry{
		index: make(map[string]int),
	}
}

// Connect adds a job the same way a configuration entry would describe it.
func (r *Registry) Connect(name, interval, task, action string, args []any) error {
	return r.Add(types.JobDefinition{
		Name:     name,
		Interval: interval,
		Task:     task,
		Action:   action,
		Args:     args,
	})
}

func (r *Registry) Add(job types.JobDefinition) error {
	if strings.TrimSpace(job.Name) == "" {
		return fmt.Errorf("%w: job name cannot be empty", ErrInvalidJob)
	}
	if _, exists := r.index[job.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateJob, job.Name)
	}

	if job.Action == "" {
		job.Action = types.DefaultAction
	}
	if job.Args == nil {
		job.Args = []any{}
	}
	job.LastRun = nil
	job.LastResult = types.EmptyResult

	r.index[job.Name] = len(r.jobs)
	r.jobs = append(r.jobs, job)
	return nil
}

// Jobs returns the definitions in registration order.
func (r *Registry) Jobs() []types.JobDefinition {
	out := make([]types.JobDefinition, len(r.jobs))
	copy(out, r.jobs)
	return out
}

func (r *Registry) Get(name string) (types.JobDefinition, bool) {
	i, ok := r.index[name]
	if !ok {
		return types.JobDefinition{}, false
	}
	return r.jobs[i], true
}

func (r *Registry) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.jobs))
	for i, job := range r.jobs {
		names[i] = job.Name
	}
	return names
}

func (r *Registry) Len() int {
	return len(r.jobs)
}
