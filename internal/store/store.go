package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/maloquacious/bridgestore/internal/logger"
)

const (
	DefaultDBFile = "bridgestore.db"
)

// CheckExists verifies if the datastore file exists at the given path.
// Returns true if the store exists, false otherwise.
func CheckExists(dbPath string) (bool, error) {
	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check store existence: %w", err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("datastore path is a directory, expected file: %s", dbPath)
	}
	return true, nil
}

// GetDBPath returns the full path to the database file in storePath.
func GetDBPath(storePath string) string {
	return filepath.Join(storePath, DefaultDBFile)
}

// Options configure a Store.
type Options struct {
	Logger logger.Logger
	// BackupBeforeMigrate takes a Backup before the first pending step runs.
	BackupBeforeMigrate bool
	// Registerer receives the store metrics; nil leaves them unregistered.
	Registerer prometheus.Registerer
	// Steps replaces the built-in step registry; index i builds version i.
	Steps []StepFactory
}

// InitOptions are the per-run inputs of Init.
type InitOptions struct {
	// TargetVersion overrides LatestSchema when non-zero.
	TargetVersion int
	// Rooms and Users are imported by schema versions 8 and 9.
	Rooms RoomDirectory
	Users UserDirectory
}

// Store owns exactly one Connector and everything that runs over it:
// the version tracker, the migration runner and the record gateway.
// Record operations must not be issued while Init is running.
type Store struct {
	conn     Connector
	log      logger.Logger
	opts     Options
	steps    []StepFactory
	versions *versionTracker
	metrics  *metrics

	mu    sync.Mutex
	ready atomic.Bool
}

// New creates a Store over conn. The connector is not opened until Open or Init.
func New(conn Connector, opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	steps := opts.Steps
	if steps == nil {
		steps = schemaSteps
	}
	return &Store{
		conn:     conn,
		log:      log,
		opts:     opts,
		steps:    steps,
		versions: &versionTracker{conn: conn, log: log},
		metrics:  newMetrics(opts.Registerer),
	}
}

// Open opens the connector without touching the schema.
func (s *Store) Open(ctx context.Context) error {
	if err := s.conn.Open(ctx); err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	return nil
}

// Init opens the connector, migrates the schema and makes the record
// gateway available. When the returned error is fatal (see IsFatal) the
// database is in an indeterminate state and must not serve requests.
func (s *Store) Init(ctx context.Context, opts InitOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ready.Store(false)
	if err := s.Open(ctx); err != nil {
		return err
	}

	m := &migrator{
		conn:     s.conn,
		versions: s.versions,
		steps:    s.steps,
		log:      s.log,
		metrics:  s.metrics,
	}
	if s.opts.BackupBeforeMigrate {
		m.beforeFirstStep = s.Backup
	}

	deps := StepDeps{Rooms: opts.Rooms, Users: opts.Users, Log: s.log}
	if err := m.run(ctx, opts.TargetVersion, deps); err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	s.ready.Store(true)
	return nil
}

// Close releases the connector. Calling it more than once is harmless.
func (s *Store) Close() error {
	s.ready.Store(false)
	return s.conn.Close()
}

// Ready reports whether Init completed and the store has not been closed.
func (s *Store) Ready() bool {
	return s.ready.Load()
}

// Version returns the persisted schema version (0 for an empty database).
func (s *Store) Version(ctx context.Context) int {
	return s.versions.Get(ctx)
}

// LatestVersion is the version Init migrates to without an override.
func (s *Store) LatestVersion() int {
	return len(s.steps) - 1
}

// CheckState returns the current state of an opened datastore.
func (s *Store) CheckState(ctx context.Context) (StoreState, error) {
	switch v := s.versions.Get(ctx); {
	case v == 0:
		return StateUninitialized, nil
	case v != s.LatestVersion():
		return StateVersionMismatch, nil
	default:
		return StateReady, nil
	}
}

func (s *Store) checkReady() error {
	if !s.ready.Load() {
		return ErrNotReady
	}
	return nil
}
