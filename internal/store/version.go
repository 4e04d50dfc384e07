package store

import (
	"context"
	"fmt"

	"github.com/maloquacious/bridgestore/internal/logger"
)

// versionTracker reads and writes the single-row schema control table.
type versionTracker struct {
	conn Connector
	log  logger.Logger
}

// Get returns the applied schema version.
// A missing table, missing row or failed query all read as version 0 so a
// fresh database starts from the first step.
func (v *versionTracker) Get(ctx context.Context) int {
	row, err := v.conn.Get(ctx, `SELECT version FROM schema`)
	if err != nil {
		v.log.Debug("schema version unavailable, assuming 0: %v", err)
		return 0
	}
	if row == nil {
		return 0
	}
	return int(row.Int64("version"))
}

// Set overwrites the control row with version.
func (v *versionTracker) Set(ctx context.Context, version int) error {
	if err := v.conn.Run(ctx, `UPDATE schema SET version = $1`, version); err != nil {
		return fmt.Errorf("set schema version %d: %w", version, err)
	}
	if v.Get(ctx) == version {
		return nil
	}
	// the row was missing, so the update touched nothing
	if err := v.conn.Run(ctx, `INSERT INTO schema (version) VALUES ($1)`, version); err != nil {
		return fmt.Errorf("set schema version %d: %w", version, err)
	}
	return nil
}
