package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/0xPuncker/periodic/internal/config"
	"github.com/0xPuncker/periodic/internal/executor"
	"github.com/0xPuncker/periodic/internal/interval"
	"github.com/0xPuncker/periodic/internal/lock"
	"github.com/0xPuncker/periodic/internal/registry"
	"github.com/0xPuncker/periodic/internal/runner"
	"github.com/0xPuncker/periodic/internal/store"
	"github.com/sirupsen/logrus"
)

// app holds everything one invocation needs, built from the config file.
type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	registry  *registry.Registry
	evaluator *interval.Evaluator
	location  *time.Location
	guard     *lock.Guard
	tasks     *executor.Table
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05-07:00",
	})

	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level != "" {
		parsed, err := logrus.ParseLevel(strings.ToLower(level))
		if err != nil {
			logger.Warnf("Unknown log level %q, using info", level)
		} else {
			logger.SetLevel(parsed)
		}
	}
	return logger
}

func newApp(configPath string, logger *logrus.Logger) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	reg, errs := cfg.Registry()
	for _, err := range errs {
		logger.WithError(err).Warn("Skipping job definition")
	}

	if err := os.MkdirAll(cfg.StorePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	tasks := executor.NewTable(logger)
	executor.RegisterBuiltins(tasks, nil)

	logger.WithFields(logrus.Fields{
		"config":   configPath,
		"store":    cfg.StoreFilePath(),
		"jobs":     reg.Len(),
		"timezone": loc.String(),
	}).Debug("Configuration loaded")

	return &app{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		evaluator: interval.NewEvaluator(loc),
		location:  loc,
		guard:     lock.InDir(logger, cfg.StorePath, cfg.Timeout(), lock.WithExclusive(cfg.ExclusiveLock)),
		tasks:     tasks,
	}, nil
}

// store opens the run history. Read-only callers pass recoverCorrupt=false
// so they never move a file out from under a running pass.
func (a *app) store(recoverCorrupt bool) *store.FileStore {
	return store.NewFileStore(a.logger, a.cfg.StoreFilePath(),
		store.WithLocation(a.location),
		store.WithRecoverCorrupt(recoverCorrupt),
	)
}

func (a *app) runner() *runner.Runner {
	return runner.New(a.logger, a.registry, a.store(a.cfg.RecoverCorrupt), a.guard, a.tasks,
		runner.WithEvaluator(a.evaluator),
	)
}

func builtinTasks() []string {
	tasks := executor.NewTable(logrus.New())
	executor.RegisterBuiltins(tasks, nil)
	return tasks.Tasks()
}
