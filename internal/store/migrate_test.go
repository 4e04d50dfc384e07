package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maloquacious/bridgestore/internal/store"
	"github.com/maloquacious/bridgestore/internal/store/record"
	"github.com/maloquacious/bridgestore/internal/store/sqlite"
)

func TestInit_FreshDatabase(t *testing.T) {
	ctx := context.Background()
	s, _ := newMemoryStore(t)

	assert.True(t, s.Ready())
	assert.Equal(t, store.LatestSchema, s.Version(ctx))
	state, err := s.CheckState(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StateReady, state)

	// running again is a no-op
	require.NoError(t, s.Init(ctx, store.InitOptions{}))
	assert.Equal(t, store.LatestSchema, s.Version(ctx))
}

func TestInit_TargetVersion(t *testing.T) {
	ctx := context.Background()
	conn := sqlite.New(store.MemoryPath)
	s := store.New(conn, store.Options{})
	defer s.Close()

	require.NoError(t, s.Init(ctx, store.InitOptions{TargetVersion: 3}))
	assert.Equal(t, 3, s.Version(ctx))

	state, err := s.CheckState(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StateVersionMismatch, state)

	// v4 creates the emoji table; it must not exist yet
	_, err = conn.All(ctx, `SELECT emoji_id FROM emoji`)
	assert.ErrorIs(t, err, store.ErrStatement)

	// resumes from the committed version
	require.NoError(t, s.Init(ctx, store.InitOptions{}))
	assert.Equal(t, store.LatestSchema, s.Version(ctx))
}

func TestGetVersion_NoControlTable(t *testing.T) {
	ctx := context.Background()
	conn := sqlite.New(store.MemoryPath)
	s := store.New(conn, store.Options{})
	defer s.Close()

	require.NoError(t, s.Open(ctx))
	assert.Equal(t, 0, s.Version(ctx))

	state, err := s.CheckState(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StateUninitialized, state)

	// table present, row missing
	require.NoError(t, conn.Exec(ctx, `CREATE TABLE schema (version INTEGER UNIQUE NOT NULL)`))
	assert.Equal(t, 0, s.Version(ctx))
}

func TestInit_SetsEveryVersionOnceInOrder(t *testing.T) {
	ctx := context.Background()

	for start := 0; start < store.LatestSchema; start++ {
		t.Run(fmt.Sprintf("from v%d", start), func(t *testing.T) {
			conn := newRecordingConn(t)
			s := store.New(conn, store.Options{})

			if start > 0 {
				require.NoError(t, s.Init(ctx, store.InitOptions{TargetVersion: start}))
				require.Equal(t, start, s.Version(ctx))
			}
			conn.reset()

			require.NoError(t, s.Init(ctx, store.InitOptions{}))

			var want []int
			for v := start + 1; v <= store.LatestSchema; v++ {
				want = append(want, v)
			}
			assert.Equal(t, want, conn.reset())
			assert.Equal(t, store.LatestSchema, s.Version(ctx))
		})
	}
}

func TestInit_StepFailsRollbackSucceeds(t *testing.T) {
	ctx := context.Background()
	tr := &trace{}

	steps := store.DefaultSteps()[:3]
	steps = append(steps,
		tracedStep(tr, "v3", errForward, nil),
		tracedStep(tr, "v4", nil, nil),
	)

	s := store.New(sqlite.New(store.MemoryPath), store.Options{Steps: steps})
	defer s.Close()

	require.NoError(t, s.Init(ctx, store.InitOptions{TargetVersion: 2}))
	require.Equal(t, 2, s.Version(ctx))

	err := s.Init(ctx, store.InitOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrMigrationFailed)
	assert.ErrorIs(t, err, errForward)
	assert.False(t, store.IsFatal(err))

	var me *store.MigrationError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, 3, me.Version)

	assert.Equal(t, 2, s.Version(ctx))
	assert.Equal(t, []string{"run v3", "rollback v3"}, tr.list())
	assert.False(t, s.Ready())
}

func TestInit_RollbackFails(t *testing.T) {
	ctx := context.Background()
	tr := &trace{}
	errRollback := errors.New("rollback action failed")

	steps := store.DefaultSteps()[:3]
	steps = append(steps,
		tracedStep(tr, "v3", errForward, errRollback),
		tracedStep(tr, "v4", nil, nil),
	)

	s := store.New(sqlite.New(store.MemoryPath), store.Options{Steps: steps})
	defer s.Close()

	require.NoError(t, s.Init(ctx, store.InitOptions{TargetVersion: 2}))

	err := s.Init(ctx, store.InitOptions{})
	require.Error(t, err)
	assert.True(t, store.IsFatal(err))
	assert.ErrorIs(t, err, store.ErrRollbackFailed)
	assert.ErrorIs(t, err, errRollback)

	assert.LessOrEqual(t, s.Version(ctx), 2)
	assert.Equal(t, []string{"run v3", "rollback v3"}, tr.list())
	assert.False(t, s.Ready())
}

func TestInit_VersionWriteFailureFailsStep(t *testing.T) {
	ctx := context.Background()
	tr := &trace{}

	steps := store.DefaultSteps()[:2]
	steps = append(steps, func(store.StepDeps) store.MigrationStep {
		return store.NewStep("drops the control table",
			func(ctx context.Context, conn store.Connector) error {
				tr.add("run v2")
				return conn.Exec(ctx, `DROP TABLE schema`)
			},
			func(ctx context.Context, conn store.Connector) error {
				tr.add("rollback v2")
				return conn.Exec(ctx, `CREATE TABLE schema (version INTEGER UNIQUE NOT NULL); INSERT INTO schema (version) VALUES (1);`)
			},
		)
	})

	s := store.New(sqlite.New(store.MemoryPath), store.Options{Steps: steps})
	defer s.Close()

	err := s.Init(ctx, store.InitOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrMigrationFailed)
	assert.ErrorIs(t, err, store.ErrStatement)
	assert.Equal(t, []string{"run v2", "rollback v2"}, tr.list())
	assert.Equal(t, 1, s.Version(ctx))
}

func TestInit_DeduplicatesUserLinks(t *testing.T) {
	ctx := context.Background()
	conn := sqlite.New(store.MemoryPath)
	s := store.New(conn, store.Options{})
	defer s.Close()

	require.NoError(t, s.Init(ctx, store.InitOptions{TargetVersion: 6}))
	for _, link := range [][2]string{
		{"@a:example.org", "100"},
		{"@a:example.org", "100"},
		{"@a:example.org", "200"},
		{"@b:example.org", "100"},
		{"@b:example.org", "100"},
	} {
		require.NoError(t, conn.Run(ctx, `INSERT INTO user_id_remote_id (user_id, remote_id) VALUES ($1, $2)`, link[0], link[1]))
	}

	require.NoError(t, s.Init(ctx, store.InitOptions{}))
	assert.Equal(t, store.LatestSchema, s.Version(ctx))

	rows, err := conn.All(ctx, `SELECT user_id, remote_id FROM user_id_remote_id ORDER BY user_id, remote_id`)
	require.NoError(t, err)
	var links []string
	for _, row := range rows {
		links = append(links, row.String("user_id")+" "+row.String("remote_id"))
	}
	assert.Equal(t, []string{"@a:example.org 100", "@a:example.org 200", "@b:example.org 100"}, links)

	// the unique index is in place
	err = conn.Run(ctx, `INSERT INTO user_id_remote_id (user_id, remote_id) VALUES ($1, $2)`, "@a:example.org", "100")
	assert.ErrorIs(t, err, store.ErrStatement)

	_, err = conn.All(ctx, `SELECT user_id FROM user_id_remote_id_dedup`)
	assert.ErrorIs(t, err, store.ErrStatement, "scratch table is dropped")
}

func TestInit_VersionBounds(t *testing.T) {
	ctx := context.Background()

	t.Run("target beyond latest", func(t *testing.T) {
		s := store.New(sqlite.New(store.MemoryPath), store.Options{})
		defer s.Close()
		err := s.Init(ctx, store.InitOptions{TargetVersion: store.LatestSchema + 1})
		assert.ErrorIs(t, err, store.ErrUnknownVersion)
		assert.Equal(t, 0, s.Version(ctx))
	})

	t.Run("database newer than build", func(t *testing.T) {
		conn := sqlite.New(store.MemoryPath)
		s := store.New(conn, store.Options{})
		defer s.Close()
		require.NoError(t, s.Init(ctx, store.InitOptions{}))
		require.NoError(t, conn.Run(ctx, `UPDATE schema SET version = $1`, store.LatestSchema+5))

		err := s.Init(ctx, store.InitOptions{})
		assert.ErrorIs(t, err, store.ErrSchemaTooNew)
		assert.False(t, s.Ready())
	})

	t.Run("target below current", func(t *testing.T) {
		s := store.New(sqlite.New(store.MemoryPath), store.Options{})
		defer s.Close()
		require.NoError(t, s.Init(ctx, store.InitOptions{}))
		require.NoError(t, s.Init(ctx, store.InitOptions{TargetVersion: 2}))
		assert.Equal(t, store.LatestSchema, s.Version(ctx))
	})
}

func TestInit_ImportsDirectories(t *testing.T) {
	ctx := context.Background()
	conn := sqlite.New(store.MemoryPath)
	s := store.New(conn, store.Options{})
	defer s.Close()

	rooms := fakeRooms{links: []store.RoomLink{
		{MatrixID: "!a:example.org", RemoteID: "111"},
		{MatrixID: "!b:example.org", RemoteID: "222"},
		{MatrixID: "!a:example.org", RemoteID: "111"},
	}}
	users := fakeUsers{users: []store.RemoteUser{
		{RemoteID: "u1", DisplayName: "Alice", AvatarURL: "mxc://example.org/alice"},
	}}

	require.NoError(t, s.Init(ctx, store.InitOptions{Rooms: rooms, Users: users}))

	entry, err := store.Get(ctx, s, record.NewRoomEntry, store.Params{"remote_id": "111"})
	require.NoError(t, err)
	require.True(t, entry.Found())
	assert.Equal(t, "!a:example.org", entry.MatrixID)
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Next(), "duplicate directory entries are imported once")

	row, err := conn.Get(ctx, `SELECT displayname, avatar_url FROM remote_user_store WHERE remote_id = $1`, "u1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "Alice", row.String("displayname"))
}

func TestInit_DirectoryFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	conn := sqlite.New(store.MemoryPath)
	s := store.New(conn, store.Options{})
	defer s.Close()

	errDirectory := errors.New("room directory unavailable")
	err := s.Init(ctx, store.InitOptions{Rooms: fakeRooms{err: errDirectory}})
	require.Error(t, err)
	assert.ErrorIs(t, err, errDirectory)
	assert.False(t, store.IsFatal(err))
	assert.Equal(t, 7, s.Version(ctx))

	_, err = conn.All(ctx, `SELECT id FROM room_entries`)
	assert.ErrorIs(t, err, store.ErrStatement, "rollback drops room_entries")

	// retry with a working directory picks up at v8
	require.NoError(t, s.Init(ctx, store.InitOptions{Rooms: fakeRooms{}}))
	assert.Equal(t, store.LatestSchema, s.Version(ctx))
}

func TestInit_ConnectionError(t *testing.T) {
	s := store.New(sqlite.New(filepath.Join(t.TempDir(), "missing", "bridge.db")), store.Options{})
	err := s.Init(context.Background(), store.InitOptions{})
	assert.ErrorIs(t, err, store.ErrConnection)
	assert.False(t, s.Ready())
}

func TestInit_BackupBeforeMigrate(t *testing.T) {
	ctx := context.Background()

	t.Run("enabled", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bridge.db")
		s := store.New(sqlite.New(path), store.Options{BackupBeforeMigrate: true})
		require.NoError(t, s.Init(ctx, store.InitOptions{TargetVersion: 2}))
		require.NoError(t, s.Close())
		assert.FileExists(t, path+store.BackupSuffix)

		before, err := os.ReadFile(path + store.BackupSuffix)
		require.NoError(t, err)

		// the snapshot is never overwritten by later runs
		s = store.New(sqlite.New(path), store.Options{BackupBeforeMigrate: true})
		require.NoError(t, s.Init(ctx, store.InitOptions{}))
		require.NoError(t, s.Close())
		after, err := os.ReadFile(path + store.BackupSuffix)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("disabled", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bridge.db")
		s := store.New(sqlite.New(path), store.Options{})
		require.NoError(t, s.Init(ctx, store.InitOptions{}))
		require.NoError(t, s.Close())
		assert.NoFileExists(t, path+store.BackupSuffix)
	})
}

func TestInit_Metrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	tr := &trace{}

	steps := store.DefaultSteps()[:3]
	steps = append(steps, tracedStep(tr, "v3", errForward, nil))

	s := store.New(sqlite.New(store.MemoryPath), store.Options{Registerer: reg, Steps: steps})
	defer s.Close()
	require.Error(t, s.Init(ctx, store.InitOptions{}))

	// a second store on the same registry shares the counters
	other := store.New(sqlite.New(store.MemoryPath), store.Options{Registerer: reg})
	defer other.Close()

	assert.Equal(t, 2.0, counterValue(t, reg, "bridgestore_migration_steps_total", "committed"))
	assert.Equal(t, 1.0, counterValue(t, reg, "bridgestore_migration_steps_total", "rolled_back"))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "result" && lp.GetValue() == result {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
