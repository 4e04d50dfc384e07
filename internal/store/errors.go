package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConnection marks failures to open or reach a backend.
	ErrConnection = errors.New("connection error")
	// ErrNotOpen is returned by connectors used before Open or after Close.
	ErrNotOpen = errors.New("connector not open")
	// ErrStatement marks malformed or constraint-violating statements.
	ErrStatement = errors.New("statement error")
	// ErrMigrationFailed is matched by a step failure whose rollback succeeded.
	ErrMigrationFailed = errors.New("migration failed, rolled back")
	// ErrRollbackFailed is matched by a step failure whose rollback failed too.
	// The database is in an indeterminate state.
	ErrRollbackFailed = errors.New("migration rollback failed")
	// ErrSchemaTooNew is returned when the database is ahead of every known step.
	ErrSchemaTooNew = errors.New("database schema is newer than this build")
	// ErrUnknownVersion is returned for a target version with no registered step.
	ErrUnknownVersion = errors.New("unknown schema version")
	// ErrNotReady is returned by record operations before a successful Init.
	ErrNotReady = errors.New("store not initialized")
)

// ConnectionError wraps err so that it matches ErrConnection.
func ConnectionError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrConnection, op, err)
}

// StatementError wraps err so that it matches ErrStatement.
func StatementError(statement string, err error) error {
	return fmt.Errorf("%w: %q: %w", ErrStatement, abbreviate(statement), err)
}

func abbreviate(statement string) string {
	s := strings.Join(strings.Fields(statement), " ")
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}

// MigrationError reports a failed migration step.
type MigrationError struct {
	Version     int
	Description string
	Err         error
	// RollbackErr is set when the step's rollback failed as well.
	RollbackErr error
}

func (e *MigrationError) Error() string {
	if e.RollbackErr != nil {
		return fmt.Sprintf("schema v%d (%s): %v; rollback failed: %v", e.Version, e.Description, e.Err, e.RollbackErr)
	}
	return fmt.Sprintf("schema v%d (%s): %v; rolled back", e.Version, e.Description, e.Err)
}

// Fatal reports whether the database may be left in an indeterminate state.
func (e *MigrationError) Fatal() bool {
	return e.RollbackErr != nil
}

func (e *MigrationError) Unwrap() []error {
	if e.Fatal() {
		return []error{ErrRollbackFailed, e.Err, e.RollbackErr}
	}
	return []error{ErrMigrationFailed, e.Err}
}

// IsFatal reports whether err carries a migration failure that must stop the process.
func IsFatal(err error) bool {
	var me *MigrationError
	return errors.As(err, &me) && me.Fatal()
}
