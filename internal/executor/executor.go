// Package executor resolves (task, action) pairs to handlers and runs them.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrTaskResolution marks a (task, action) pair with no registered handler.
var ErrTaskResolution = errors.New("task resolution error")

type TaskResolutionError struct {
	Task   string
	Action string
}

func (e *TaskResolutionError) Error() string {
	return fmt.Sprintf("task %q has no action %q", e.Task, e.Action)
}

func (e *TaskResolutionError) Unwrap() error {
	return ErrTaskResolution
}

// Executor runs one job action synchronously and returns its result.
type Executor interface {
	Execute(ctx context.Context, task, action string, args []any) (any, error)
}

// Resolver is implemented by executors that can check a pair up front.
type Resolver interface {
	Resolve(task, action string) error
}

type HandlerFunc func(ctx context.Context, args []any) (any, error)

// Table is an Executor backed by an explicit registration table.
type Table struct {
	mu       sync.RWMutex
	handlers map[string]map[string]HandlerFunc
	logger   *logrus.Logger
}

func NewTable(logger *logrus.Logger) *Table {
	return &Table{
		handlers: make(map[string]map[string]HandlerFunc),
		logger:   logger,
	}
}

func (t *Table) Register(task, action string, fn HandlerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()

	actions, ok := t.handlers[task]
	if !ok {
		actions = make(map[string]HandlerFunc)
		t.handlers[task] = actions
	}
	actions[action] = fn
}

// RegisterTask is a shortcut for a task with a single "main" action.
func (t *Table) RegisterTask(task string, fn func(ctx context.Context) error) {
	t.Register(task, "main", func(ctx context.Context, _ []any) (any, error) {
		return nil, fn(ctx)
	})
}

func (t *Table) lookup(task, action string) (HandlerFunc, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	fn, ok := t.handlers[task][action]
	if !ok || fn == nil {
		return nil, &TaskResolutionError{Task: task, Action: action}
	}
	return fn, nil
}

func (t *Table) Resolve(task, action string) error {
	_, err := t.lookup(task, action)
	return err
}

func (t *Table) Execute(ctx context.Context, task, action string, args []any) (any, error) {
	fn, err := t.lookup(task, action)
	if err != nil {
		return nil, err
	}
	t.logger.WithFields(logrus.Fields{
		"task":   task,
		"action": action,
		"args":   len(args),
	}).Debug("Dispatching task")
	return fn(ctx, args)
}

// Tasks lists registered pairs as "task.action", sorted.
func (t *Table) Tasks() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []string
	for task, actions := range t.handlers {
		for action := range actions {
			out = append(out, task+"."+action)
		}
	}
	sort.Strings(out)
	return out
}
