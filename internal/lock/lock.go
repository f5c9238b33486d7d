// Package lock guards a scheduling pass with a flag file whose modification
// time tells overlapping invocations whether a pass is still active.
//
// Checking the flag and recreating it are two separate steps, so two
// processes starting within the same instant can both acquire it. Exclusive
// mode narrows that window by creating the flag with O_EXCL.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// FlagName is the flag file created inside the store directory.
const FlagName = ".scheduler_running_flag"

const DefaultTimeout = 600 * time.Second

// ErrAlreadyRunning reports a fresh flag left by another pass.
var ErrAlreadyRunning = errors.New("scheduler already running")

type Guard struct {
	path      string
	timeout   time.Duration
	exclusive bool
	now       func() time.Time
	logger    *logrus.Logger

	// beforeCreate runs between the staleness check and the create; tests
	// use it to land inside the race window.
	beforeCreate func()
}

type Option func(*Guard)

func WithExclusive(exclusive bool) Option {
	return func(g *Guard) {
		g.exclusive = exclusive
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

func NewGuard(logger *logrus.Logger, path string, timeout time.Duration, opts ...Option) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	g := &Guard{
		path:    path,
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// InDir places the flag file in dir.
func InDir(logger *logrus.Logger, dir string, timeout time.Duration, opts ...Option) *Guard {
	return NewGuard(logger, filepath.Join(dir, FlagName), timeout, opts...)
}

func (g *Guard) Path() string {
	return g.path
}

func (g *Guard) Timeout() time.Duration {
	return g.timeout
}

// TryAcquire returns ErrAlreadyRunning while a flag younger than the
// timeout exists. An older flag is treated as abandoned and replaced.
func (g *Guard) TryAcquire() error {
	now := g.now()

	info, err := os.Stat(g.path)
	switch {
	case err == nil:
		age := now.Sub(info.ModTime())
		if age < g.timeout {
			g.logger.WithFields(logrus.Fields{
				"flag":    g.path,
				"age":     age.Round(time.Second).String(),
				"timeout": g.timeout.String(),
			}).Debug("Found fresh processing flag")
			return ErrAlreadyRunning
		}
		g.logger.WithFields(logrus.Fields{
			"flag":    g.path,
			"age":     age.Round(time.Second).String(),
			"timeout": g.timeout.String(),
		}).Warn("Removing stale processing flag")
		if err := os.Remove(g.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove stale flag: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return fmt.Errorf("failed to stat flag: %w", err)
	}

	if g.beforeCreate != nil {
		g.beforeCreate()
	}
	return g.create(now)
}

func (g *Guard) create(now time.Time) error {
	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return fmt.Errorf("failed to create flag directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if g.exclusive {
		flags = os.O_CREATE | os.O_WRONLY | os.O_EXCL
	}
	f, err := os.OpenFile(g.path, flags, 0o644)
	if err != nil {
		if g.exclusive && errors.Is(err, fs.ErrExist) {
			return ErrAlreadyRunning
		}
		return fmt.Errorf("failed to create flag: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close flag: %w", err)
	}
	if err := os.Chtimes(g.path, now, now); err != nil {
		return fmt.Errorf("failed to stamp flag: %w", err)
	}
	return nil
}

// Release removes the flag. A flag that is already gone is not an error.
func (g *Guard) Release() error {
	if err := os.Remove(g.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove flag: %w", err)
	}
	return nil
}

// Held reports whether a fresh flag currently exists.
func (g *Guard) Held() (bool, time.Time, error) {
	info, err := os.Stat(g.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, fmt.Errorf("failed to stat flag: %w", err)
	}
	return g.now().Sub(info.ModTime()) < g.timeout, info.ModTime(), nil
}
