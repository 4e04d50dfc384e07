package store

import (
	"context"
	"fmt"

	"github.com/maloquacious/bridgestore/internal/logger"
)

// migrator walks the schema forward one version at a time.
type migrator struct {
	conn     Connector
	versions *versionTracker
	steps    []StepFactory
	log      logger.Logger
	metrics  *metrics
	// beforeFirstStep runs once, only when at least one step is pending.
	beforeFirstStep func(ctx context.Context) error
}

func (m *migrator) latest() int {
	return len(m.steps) - 1
}

// run migrates from the persisted version to target (0 means latest).
// The persisted version is only advanced after a step's forward action
// succeeds, so an interrupted run resumes from the last committed version.
func (m *migrator) run(ctx context.Context, target int, deps StepDeps) error {
	latest := m.latest()
	if target == 0 {
		target = latest
	}
	if target < 0 || target > latest {
		return fmt.Errorf("%w: target v%d, latest known v%d", ErrUnknownVersion, target, latest)
	}

	current := m.versions.Get(ctx)
	if current > latest {
		return fmt.Errorf("%w: database v%d, latest known v%d", ErrSchemaTooNew, current, latest)
	}
	if current >= target {
		if current > target {
			m.log.Warn("database schema v%d is ahead of target v%d, downgrades are not supported", current, target)
		} else {
			m.log.Debug("database schema is up to date at v%d", current)
		}
		return nil
	}

	m.log.Info("migrating database schema from v%d to v%d", current, target)
	if m.beforeFirstStep != nil {
		if err := m.beforeFirstStep(ctx); err != nil {
			return fmt.Errorf("prepare migration: %w", err)
		}
	}

	if deps.Log == nil {
		deps.Log = m.log
	}
	for current < target {
		next := current + 1
		factory := m.steps[next]
		if factory == nil {
			return fmt.Errorf("%w: no step registered for v%d", ErrUnknownVersion, next)
		}
		step := factory(deps)
		log := logger.With(m.log, "version", next)

		log.Info("applying schema v%d: %s", next, step.Description())
		if err := m.apply(ctx, step, next); err != nil {
			log.Error("schema v%d failed, rolling back: %v", next, err)
			if rbErr := step.Rollback(ctx, m.conn); rbErr != nil {
				log.Error("rollback of schema v%d failed: %v", next, rbErr)
				m.metrics.step(resultFatal)
				return &MigrationError{Version: next, Description: step.Description(), Err: err, RollbackErr: rbErr}
			}
			log.Warn("schema v%d rolled back, database remains at v%d", next, current)
			m.metrics.step(resultRolledBack)
			return &MigrationError{Version: next, Description: step.Description(), Err: err}
		}
		m.metrics.step(resultCommitted)
		current = next
	}

	m.log.Info("database schema is now at v%d", current)
	return nil
}

// apply runs the forward action and records the new version.
// A step whose version cannot be recorded is not complete.
func (m *migrator) apply(ctx context.Context, step MigrationStep, version int) error {
	if err := step.Run(ctx, m.conn); err != nil {
		return err
	}
	return m.versions.Set(ctx, version)
}
