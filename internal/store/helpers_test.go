package store_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maloquacious/bridgestore/internal/store"
	"github.com/maloquacious/bridgestore/internal/store/sqlite"
)

// recordingConn wraps a real connector and records every schema version write.
type recordingConn struct {
	*sqlite.Connector

	mu       sync.Mutex
	versions []int
}

func (c *recordingConn) Run(ctx context.Context, statement string, args ...any) error {
	if strings.HasPrefix(statement, "UPDATE schema SET version") {
		c.mu.Lock()
		c.versions = append(c.versions, args[0].(int))
		c.mu.Unlock()
	}
	return c.Connector.Run(ctx, statement, args...)
}

func (c *recordingConn) reset() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.versions
	c.versions = nil
	return out
}

func newRecordingConn(t *testing.T) *recordingConn {
	t.Helper()
	conn := &recordingConn{Connector: sqlite.New(store.MemoryPath)}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// newMemoryStore returns an initialised store over a private in-memory database.
func newMemoryStore(t *testing.T) (*store.Store, *sqlite.Connector) {
	t.Helper()
	conn := sqlite.New(store.MemoryPath)
	s := store.New(conn, store.Options{})
	require.NoError(t, s.Init(context.Background(), store.InitOptions{}))
	t.Cleanup(func() { s.Close() })
	return s, conn
}

// trace remembers which step actions ran.
type trace struct {
	mu    sync.Mutex
	calls []string
}

func (tr *trace) add(call string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.calls = append(tr.calls, call)
}

func (tr *trace) list() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.calls...)
}

var errForward = errors.New("forward action failed")

// tracedStep is a step whose actions only record themselves.
func tracedStep(tr *trace, name string, runErr, rollbackErr error) store.StepFactory {
	return func(store.StepDeps) store.MigrationStep {
		return store.NewStep(name,
			func(context.Context, store.Connector) error {
				tr.add("run " + name)
				return runErr
			},
			func(context.Context, store.Connector) error {
				tr.add("rollback " + name)
				return rollbackErr
			},
		)
	}
}

type fakeRooms struct {
	links []store.RoomLink
	err   error
}

func (f fakeRooms) RoomLinks(context.Context) ([]store.RoomLink, error) {
	return f.links, f.err
}

type fakeUsers struct {
	users []store.RemoteUser
}

func (f fakeUsers) RemoteUsers(context.Context) ([]store.RemoteUser, error) {
	return f.users, nil
}
