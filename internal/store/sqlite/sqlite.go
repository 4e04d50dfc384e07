// Package sqlite is the local file backend of the store, built on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/maloquacious/bridgestore/internal/store"
	_ "modernc.org/sqlite"
)

// Connector implements store.Connector over a single SQLite file.
type Connector struct {
	dbPath string

	mu sync.Mutex
	db *sql.DB
}

// New creates a Connector for dbPath. ":memory:" selects a private in-memory database.
func New(dbPath string) *Connector {
	return &Connector{dbPath: dbPath}
}

// FilePath returns the database file path.
func (c *Connector) FilePath() string {
	return c.dbPath
}

// Open opens the SQLite database with safe defaults.
// Opening an already open connector is a no-op.
func (c *Connector) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return nil
	}
	if c.dbPath == "" {
		return store.ConnectionError("open sqlite", fmt.Errorf("empty database path"))
	}

	db, err := sql.Open("sqlite", c.dbPath)
	if err != nil {
		return store.ConnectionError("open sqlite", err)
	}
	// One connection: the store owns a single session, and every
	// connection to ":memory:" would otherwise be a separate database.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	if c.dbPath != store.MemoryPath {
		pragmas = append([]string{"PRAGMA journal_mode=WAL"}, pragmas...)
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return store.ConnectionError(fmt.Sprintf("set pragma %q on %s", pragma, c.dbPath), err)
		}
	}

	c.db = db
	return nil
}

// Close closes the database connection.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *Connector) handle() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil, store.ErrNotOpen
	}
	return c.db, nil
}

// Exec runs statements that take no parameters; several may be separated by ';'.
func (c *Connector) Exec(ctx context.Context, statement string) error {
	db, err := c.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, statement); err != nil {
		return store.StatementError(statement, err)
	}
	return nil
}

// Run runs one parameterised statement.
func (c *Connector) Run(ctx context.Context, statement string, args ...any) error {
	db, err := c.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, statement, args...); err != nil {
		return store.StatementError(statement, err)
	}
	return nil
}

// Get returns the first row of the result, or nil.
func (c *Connector) Get(ctx context.Context, statement string, args ...any) (store.Row, error) {
	rows, err := c.All(ctx, statement, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// All returns every row of the result.
func (c *Connector) All(ctx context.Context, statement string, args ...any) ([]store.Row, error) {
	db, err := c.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, store.StatementError(statement, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, store.StatementError(statement, err)
	}
	return out, nil
}

// Checkpoint folds the write-ahead log into the main database file.
// It does nothing when the connector is not open.
func (c *Connector) Checkpoint(ctx context.Context) error {
	db, err := c.handle()
	if err != nil {
		return nil
	}
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint %s: %w", c.dbPath, err)
	}
	return nil
}

func scanRows(rows *sql.Rows) ([]store.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []store.Row{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(store.Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				values[i] = append([]byte(nil), b...)
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
