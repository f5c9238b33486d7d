// Package runner executes one scheduling pass: take the processing flag,
// load and reconcile the store, run every due job in registration order,
// write the store once and drop the flag.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/0xPuncker/periodic/internal/executor"
	"github.com/0xPuncker/periodic/internal/interval"
	"github.com/0xPuncker/periodic/internal/lock"
	"github.com/0xPuncker/periodic/internal/registry"
	"github.com/0xPuncker/periodic/internal/store"
	"github.com/0xPuncker/periodic/pkg/types"
	"github.com/0xPuncker/periodic/pkg/utils"
	"github.com/sirupsen/logrus"
)

// Store is the durable run history consumed by a pass.
type Store interface {
	Load() (store.Snapshot, error)
	Save(store.Snapshot) error
}

// Locker provides pass-level mutual exclusion.
type Locker interface {
	TryAcquire() error
	Release() error
}

type Runner struct {
	registry  *registry.Registry
	store     Store
	lock      Locker
	executor  executor.Executor
	evaluator *interval.Evaluator
	logger    *logrus.Logger
	now       func() time.Time
}

type Option func(*Runner)

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

func WithEvaluator(e *interval.Evaluator) Option {
	return func(r *Runner) {
		if e != nil {
			r.evaluator = e
		}
	}
}

func New(logger *logrus.Logger, reg *registry.Registry, st Store, lk Locker, exec executor.Executor, opts ...Option) *Runner {
	r := &Runner{
		registry:  reg,
		store:     st,
		lock:      lk,
		executor:  exec,
		evaluator: interval.NewEvaluator(time.Local),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOptions adjust a single pass.
type RunOptions struct {
	// DryRun evaluates due-ness without executing jobs or writing the store.
	DryRun bool
	// Force treats the named jobs as due regardless of their interval.
	Force []string
}

// Run performs one pass. Another active pass is reported through
// Result.Status, not as an error. Errors are pass-level failures: the flag
// could not be handled or the store could not be read or written.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (res *Result, err error) {
	started := r.now()

	if err := r.lock.TryAcquire(); err != nil {
		if errors.Is(err, lock.ErrAlreadyRunning) {
			r.logger.Info("Scheduler already running! Exiting.")
			return &Result{Status: StatusAlreadyRunning, StartedAt: started, FinishedAt: r.now()}, nil
		}
		return nil, fmt.Errorf("failed to acquire processing flag: %w", err)
	}
	defer func() {
		if rerr := r.lock.Release(); rerr != nil {
			r.logger.WithError(rerr).Error("Failed to remove processing flag")
		}
	}()

	snap, err := r.store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load store: %w", err)
	}
	snap = store.Reconcile(snap, r.registry)

	force := make(map[string]bool, len(opts.Force))
	for _, name := range opts.Force {
		force[name] = true
	}

	jobs := r.registry.Jobs()
	unresolved := r.resolve(jobs)

	res = &Result{Status: StatusCompleted, StartedAt: started, DryRun: opts.DryRun}
	for _, job := range jobs {
		if cerr := ctx.Err(); cerr != nil {
			err = fmt.Errorf("pass interrupted before %q: %w", job.Name, cerr)
			break
		}
		res.Jobs = append(res.Jobs, r.runJob(ctx, job, snap, unresolved[job.Name], force[job.Name], opts.DryRun))
	}

	if !opts.DryRun {
		if serr := r.store.Save(snap); serr != nil {
			res.FinishedAt = r.now()
			return res, fmt.Errorf("failed to save store: %w", serr)
		}
	}
	res.FinishedAt = r.now()

	r.logger.WithFields(logrus.Fields{
		"ran":      len(res.Ran()),
		"skipped":  len(res.Skipped()),
		"failed":   len(res.Failed()),
		"duration": utils.FormatElapsed(res.FinishedAt.Sub(res.StartedAt)),
		"dry_run":  opts.DryRun,
	}).Info("Pass finished")
	return res, err
}

// resolve checks every (task, action) pair once before any job runs, when
// the executor supports it. The returned errors fail their job only if it
// turns out to be due.
func (r *Runner) resolve(jobs []types.JobDefinition) map[string]error {
	resolver, ok := r.executor.(executor.Resolver)
	if !ok {
		return nil
	}
	out := make(map[string]error)
	for _, job := range jobs {
		if err := resolver.Resolve(job.Task, job.Action); err != nil {
			out[job.Name] = err
		}
	}
	return out
}

func (r *Runner) runJob(ctx context.Context, job types.JobDefinition, snap store.Snapshot, unresolved error, forced, dryRun bool) JobResult {
	rec := snap[job.Name]
	jr := JobResult{Name: job.Name, Task: job.Task, Action: job.Action, LastRun: rec.LastRun}
	fields := logrus.Fields{"task_id": job.Name, "task": job.Task, "action": job.Action}

	now := r.now()
	next, err := r.evaluator.NextDue(rec.LastRun, job.Interval)
	if err != nil {
		r.logger.WithFields(fields).WithError(err).Error("Cannot evaluate interval, skipping")
		jr.Outcome = OutcomeFailed
		jr.Err = err
		if !dryRun {
			rec.LastResult = errorResult("configuration", err)
			jr.Result = rec.LastResult
		}
		return jr
	}
	jr.NextDue = &next

	if next.After(now) && !forced {
		r.logger.WithFields(fields).WithField("next_due", next.Format(time.RFC3339)).
			Infof("Not time to run %s, skipping.", job.Task)
		jr.Outcome = OutcomeSkipped
		return jr
	}

	if dryRun {
		if unresolved != nil {
			r.logger.WithFields(fields).WithError(unresolved).Warnf("Would fail %s.", job.Task)
			jr.Outcome = OutcomeFailed
			jr.Err = unresolved
			return jr
		}
		r.logger.WithFields(fields).Infof("Would run %s.", job.Task)
		jr.Outcome = OutcomeDue
		return jr
	}

	r.logger.WithFields(fields).Infof("Running %s.", job.Task)

	// The live definition replaces whatever was stored for this job.
	live := job.Record()
	live.LastRun = rec.LastRun
	live.LastResult = rec.LastResult
	snap[job.Name] = live

	start := time.Now()
	value, kind, err := r.execute(ctx, job, unresolved)
	jr.Duration = time.Since(start)

	if err != nil {
		r.logger.WithFields(fields).WithFields(logrus.Fields{
			"error":    err.Error(),
			"duration": utils.FormatElapsed(jr.Duration),
		}).Error("Job execution failed")
		live.LastResult = errorResult(kind, err)
		jr.Outcome = OutcomeFailed
		jr.Err = err
		jr.Result = live.LastResult
		return jr
	}

	finished := r.now()
	if live.LastRun != nil && finished.Before(*live.LastRun) {
		finished = *live.LastRun
	}
	live.LastRun = &finished

	encoded, err := json.Marshal(value)
	if err != nil {
		live.LastResult = errorResult("result_encoding", err)
		jr.Err = err
	} else {
		live.LastResult = encoded
	}

	r.logger.WithFields(fields).WithField("duration", utils.FormatElapsed(jr.Duration)).
		Info("Job execution completed")
	jr.Outcome = OutcomeRan
	jr.LastRun = live.LastRun
	jr.Result = live.LastResult
	return jr
}

func (r *Runner) execute(ctx context.Context, job types.JobDefinition, unresolved error) (value any, kind string, err error) {
	if unresolved != nil {
		return nil, "task_resolution", unresolved
	}

	defer func() {
		if p := recover(); p != nil {
			value, kind, err = nil, "panic", fmt.Errorf("task panicked: %v", p)
		}
	}()

	value, err = r.executor.Execute(ctx, job.Task, job.Action, job.Args)
	if err != nil {
		if errors.Is(err, executor.ErrTaskResolution) {
			return nil, "task_resolution", err
		}
		return nil, "execution", err
	}
	return value, "", nil
}

func errorResult(kind string, err error) json.RawMessage {
	data, merr := json.Marshal(types.ErrorResult{Error: types.JobError{Kind: kind, Message: err.Error()}})
	if merr != nil {
		return types.EmptyResult
	}
	return data
}
