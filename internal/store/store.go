// Package store persists the per-job run history between invocations.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/0xPuncker/periodic/internal/registry"
	"github.com/0xPuncker/periodic/pkg/types"
	"github.com/sirupsen/logrus"
)

const DefaultFile = "cron_scheduler.json"

var (
	// ErrIO marks a failure to read or write the store file.
	ErrIO = errors.New("store i/o error")
	// ErrCorrupt marks a store file whose content is not a mapping of run records.
	ErrCorrupt = errors.New("store content is corrupt")
)

// Snapshot maps job names to their persisted records.
type Snapshot map[string]*types.RunRecord

// Names returns the job names in lexical order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone copies the snapshot so that records can be changed independently.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for name, rec := range s {
		if rec == nil {
			out[name] = nil
			continue
		}
		cp := *rec
		out[name] = &cp
	}
	return out
}

// Reconcile inserts a fresh record for every registered job missing from
// the snapshot. Records for jobs that are no longer registered are kept.
func Reconcile(snap Snapshot, reg *registry.Registry) Snapshot {
	if snap == nil {
		snap = make(Snapshot, reg.Len())
	}
	for _, job := range reg.Jobs() {
		if rec, ok := snap[job.Name]; ok && rec != nil {
			continue
		}
		snap[job.Name] = job.Record()
	}
	return snap
}

// FileStore reads and writes a Snapshot as a single JSON document.
type FileStore struct {
	path           string
	location       *time.Location
	recoverCorrupt bool
	logger         *logrus.Logger
}

type Option func(*FileStore)

// WithLocation sets the zone used for legacy timestamps that carry none.
func WithLocation(loc *time.Location) Option {
	return func(s *FileStore) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithRecoverCorrupt moves an unreadable store aside and starts from an
// empty snapshot instead of failing.
func WithRecoverCorrupt(enabled bool) Option {
	return func(s *FileStore) {
		s.recoverCorrupt = enabled
	}
}

func NewFileStore(logger *logrus.Logger, path string, opts ...Option) *FileStore {
	s := &FileStore{
		path:     path,
		location: time.Local,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load() (Snapshot, error) {
	s.logger.Infof("Reading from: %s", s.path)

	snap, err := Load(s.path, s.location)
	if err == nil || !errors.Is(err, ErrCorrupt) || !s.recoverCorrupt {
		return snap, err
	}

	aside := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
	if rerr := os.Rename(s.path, aside); rerr != nil {
		return nil, fmt.Errorf("%w: failed to move corrupt store aside: %v", ErrIO, rerr)
	}
	s.logger.WithFields(logrus.Fields{
		"store": s.path,
		"moved": aside,
		"error": err.Error(),
	}).Warn("Store content is corrupt, starting from an empty run history")
	return Snapshot{}, nil
}

func (s *FileStore) Save(snap Snapshot) error {
	if err := Save(s.path, snap); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"store": s.path,
		"jobs":  len(snap),
	}).Debug("Store written")
	return nil
}

// Load reads the snapshot at path. A missing or blank file is an empty
// snapshot.
func Load(path string, loc *time.Location) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, nil
		}
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrIO, path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Snapshot{}, nil
	}
	return decode(data, loc)
}

// Save writes the whole snapshot through a temporary file that is renamed
// over path, so readers never observe a partially written store.
func Save(path string, snap Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return fmt.Errorf("%w: failed to encode store: %v", ErrIO, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: failed to create store directory: %v", ErrIO, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", ErrIO, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: failed to write store: %v", ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: failed to sync store: %v", ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: failed to close store: %v", ErrIO, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("%w: failed to set store permissions: %v", ErrIO, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("%w: failed to replace store: %v", ErrIO, err)
	}
	return nil
}
