// Package postgres is the network backend of the store, built on pgx.
package postgres

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maloquacious/bridgestore/internal/store"
)

// Connector implements store.Connector over a pgxpool.Pool.
type Connector struct {
	connString string
	maxConns   int32

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// New creates a Connector for connString. maxConns <= 0 keeps the pgx default.
func New(connString string, maxConns int32) *Connector {
	return &Connector{connString: connString, maxConns: maxConns}
}

// Open parses the connection string, connects and pings the server.
func (c *Connector) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool != nil {
		return nil
	}

	poolCfg, err := pgxpool.ParseConfig(c.connString)
	if err != nil {
		return store.ConnectionError("parse pg config", err)
	}
	if c.maxConns > 0 {
		poolCfg.MaxConns = c.maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return store.ConnectionError("create pg pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return store.ConnectionError("ping pg", err)
	}

	c.pool = pool
	return nil
}

// Close closes the pool.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
	return nil
}

func (c *Connector) handle() (*pgxpool.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool == nil {
		return nil, store.ErrNotOpen
	}
	return c.pool, nil
}

// Exec runs statements without parameters. pgx sends argument-less
// statements over the simple protocol, so several may be separated by ';'.
func (c *Connector) Exec(ctx context.Context, statement string) error {
	pool, err := c.handle()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, statement); err != nil {
		return store.StatementError(statement, err)
	}
	return nil
}

// Run runs one parameterised statement.
func (c *Connector) Run(ctx context.Context, statement string, args ...any) error {
	pool, err := c.handle()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, statement, args...); err != nil {
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
	pool, err := c.handle()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, statement, args...)
	if err != nil {
		return nil, store.StatementError(statement, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, store.StatementError(statement, err)
	}

	out := make([]store.Row, 0, len(maps))
	for _, m := range maps {
		out = append(out, store.Row(m))
	}
	return out, nil
}
