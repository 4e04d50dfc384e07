package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/maloquacious/bridgestore/internal/logger"
)

// LatestSchema is the highest schema version this build knows how to reach.
const LatestSchema = 9

// MigrationStep moves the schema from version-1 to version.
type MigrationStep interface {
	Description() string
	Run(ctx context.Context, conn Connector) error
	Rollback(ctx context.Context, conn Connector) error
}

// StepDeps carries the collaborators individual steps may need.
type StepDeps struct {
	Rooms RoomDirectory
	Users UserDirectory
	Log   logger.Logger
}

// StepFactory builds the step for one version on demand.
type StepFactory func(deps StepDeps) MigrationStep

type step struct {
	description string
	run         func(ctx context.Context, conn Connector) error
	rollback    func(ctx context.Context, conn Connector) error
}

// NewStep builds a MigrationStep from a forward and a rollback action.
func NewStep(description string, run, rollback func(ctx context.Context, conn Connector) error) MigrationStep {
	return &step{description: description, run: run, rollback: rollback}
}

func (s *step) Description() string { return s.description }

func (s *step) Run(ctx context.Context, conn Connector) error {
	return s.run(ctx, conn)
}

func (s *step) Rollback(ctx context.Context, conn Connector) error {
	if s.rollback == nil {
		return nil
	}
	return s.rollback(ctx, conn)
}

// sqlStep is a step whose actions are plain DDL.
func sqlStep(description, up, down string) StepFactory {
	return func(StepDeps) MigrationStep {
		return NewStep(description,
			func(ctx context.Context, conn Connector) error { return conn.Exec(ctx, up) },
			func(ctx context.Context, conn Connector) error { return conn.Exec(ctx, down) },
		)
	}
}

// schemaSteps is indexed by the version each step produces.
// Version 0 is the empty database and has no step.
var schemaSteps = []StepFactory{
	0: nil,
	1: sqlStep("create token association tables",
		`CREATE TABLE IF NOT EXISTS schema (
			version INTEGER UNIQUE NOT NULL
		);
		INSERT INTO schema (version) SELECT 0 WHERE NOT EXISTS (SELECT 1 FROM schema);
		CREATE TABLE IF NOT EXISTS user_id_remote_id (
			user_id TEXT NOT NULL,
			remote_id TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS remote_id_token (
			remote_id TEXT UNIQUE NOT NULL,
			token TEXT NOT NULL
		);`,
		`DROP TABLE IF EXISTS remote_id_token;
		DROP TABLE IF EXISTS user_id_remote_id;
		DROP TABLE IF EXISTS schema;`,
	),
	2: sqlStep("create event store",
		`CREATE TABLE IF NOT EXISTS event_store (
			matrix_id TEXT NOT NULL,
			remote_id TEXT NOT NULL,
			PRIMARY KEY (matrix_id, remote_id)
		);`,
		`DROP TABLE IF EXISTS event_store;`,
	),
	3: sqlStep("create remote message store",
		`CREATE TABLE IF NOT EXISTS remote_msg_store (
			msg_id TEXT PRIMARY KEY,
			guild_id TEXT NOT NULL,
			channel_id TEXT NOT NULL
		);`,
		`DROP TABLE IF EXISTS remote_msg_store;`,
	),
	4: sqlStep("create emoji store",
		`CREATE TABLE IF NOT EXISTS emoji (
			emoji_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			mxc_url TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`DROP TABLE IF EXISTS emoji;`,
	),
	5: sqlStep("index event and message lookups",
		`CREATE INDEX IF NOT EXISTS idx_event_store_remote_id ON event_store (remote_id);
		CREATE INDEX IF NOT EXISTS idx_remote_msg_store_channel_id ON remote_msg_store (channel_id);`,
		`DROP INDEX IF EXISTS idx_remote_msg_store_channel_id;
		DROP INDEX IF EXISTS idx_event_store_remote_id;`,
	),
	6: addEmojiAnimatedStep,
	7: dedupUserLinksStep,
	8: importRoomEntriesStep,
	9: importRemoteUsersStep,
}

// DefaultSteps returns a copy of the built-in step registry.
func DefaultSteps() []StepFactory {
	out := make([]StepFactory, len(schemaSteps))
	copy(out, schemaSteps)
	return out
}

func addEmojiAnimatedStep(StepDeps) MigrationStep {
	return NewStep("add emoji animated flag",
		func(ctx context.Context, conn Connector) error {
			// a re-run after an interrupted version write finds the column already there
			if _, err := conn.Get(ctx, `SELECT animated FROM emoji LIMIT 1`); err == nil {
				return nil
			}
			return conn.Exec(ctx, `ALTER TABLE emoji ADD COLUMN animated INTEGER NOT NULL DEFAULT 0;`)
		},
		func(ctx context.Context, conn Connector) error {
			if _, err := conn.Get(ctx, `SELECT animated FROM emoji LIMIT 1`); err != nil {
				return nil
			}
			return conn.Exec(ctx, `ALTER TABLE emoji DROP COLUMN animated;`)
		},
	)
}

// dedupUserLinksStep collapses repeated (user_id, remote_id) rows, which
// older schemas allowed, and then enforces uniqueness.
func dedupUserLinksStep(deps StepDeps) MigrationStep {
	return NewStep("deduplicate user to remote id links",
		func(ctx context.Context, conn Connector) error {
			dup, err := conn.Get(ctx, `SELECT user_id FROM user_id_remote_id
				GROUP BY user_id, remote_id HAVING COUNT(*) > 1 LIMIT 1`)
			if err != nil {
				return err
			}
			if dup != nil {
				err := conn.Exec(ctx, `BEGIN;
					DROP TABLE IF EXISTS user_id_remote_id_dedup;
					CREATE TABLE user_id_remote_id_dedup AS SELECT DISTINCT user_id, remote_id FROM user_id_remote_id;
					DELETE FROM user_id_remote_id;
					INSERT INTO user_id_remote_id (user_id, remote_id) SELECT user_id, remote_id FROM user_id_remote_id_dedup;
					DROP TABLE user_id_remote_id_dedup;
					COMMIT;`)
				if err != nil {
					// leave no transaction open behind the failed batch
					if rbErr := conn.Exec(ctx, `ROLLBACK;`); rbErr != nil {
						deps.Log.Debug("rollback after failed deduplication: %v", rbErr)
					}
					return err
				}
				deps.Log.Info("removed duplicate user to remote id links")
			}
			return conn.Exec(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS idx_user_id_remote_id ON user_id_remote_id (user_id, remote_id);`)
		},
		func(ctx context.Context, conn Connector) error {
			return conn.Exec(ctx, `DROP INDEX IF EXISTS idx_user_id_remote_id;`)
		},
	)
}

func importRoomEntriesStep(deps StepDeps) MigrationStep {
	return NewStep("create room entries and import the room directory",
		func(ctx context.Context, conn Connector) error {
			err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS room_entries (
				id TEXT PRIMARY KEY,
				matrix_id TEXT,
				remote_id TEXT
			);`)
			if err != nil {
				return err
			}
			if deps.Rooms == nil {
				deps.Log.Info("no room directory given, nothing to import into room_entries")
				return nil
			}
			links, err := deps.Rooms.RoomLinks(ctx)
			if err != nil {
				return fmt.Errorf("list rooms: %w", err)
			}
			imported := 0
			for _, link := range links {
				existing, err := conn.Get(ctx, `SELECT id FROM room_entries WHERE matrix_id = $1 AND remote_id = $2`, link.MatrixID, link.RemoteID)
				if err != nil {
					return err
				}
				if existing != nil {
					continue
				}
				err = conn.Run(ctx, `INSERT INTO room_entries (id, matrix_id, remote_id) VALUES ($1, $2, $3)`, uuid.NewString(), link.MatrixID, link.RemoteID)
				if err != nil {
					return fmt.Errorf("import room %s: %w", link.MatrixID, err)
				}
				imported++
			}
			deps.Log.Info("imported %d of %d rooms into room_entries", imported, len(links))
			return nil
		},
		func(ctx context.Context, conn Connector) error {
			return conn.Exec(ctx, `DROP TABLE IF EXISTS room_entries;`)
		},
	)
}

func importRemoteUsersStep(deps StepDeps) MigrationStep {
	return NewStep("create remote user store and import the user directory",
		func(ctx context.Context, conn Connector) error {
			err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS remote_user_store (
				remote_id TEXT PRIMARY KEY,
				displayname TEXT,
				avatar_url TEXT
			);`)
			if err != nil {
				return err
			}
			if deps.Users == nil {
				deps.Log.Info("no user directory given, nothing to import into remote_user_store")
				return nil
			}
			users, err := deps.Users.RemoteUsers(ctx)
			if err != nil {
				return fmt.Errorf("list remote users: %w", err)
			}
			imported := 0
			for _, u := range users {
				existing, err := conn.Get(ctx, `SELECT remote_id FROM remote_user_store WHERE remote_id = $1`, u.RemoteID)
				if err != nil {
					return err
				}
				if existing != nil {
					continue
				}
				err = conn.Run(ctx, `INSERT INTO remote_user_store (remote_id, displayname, avatar_url) VALUES ($1, $2, $3)`, u.RemoteID, u.DisplayName, u.AvatarURL)
				if err != nil {
					return fmt.Errorf("import remote user %s: %w", u.RemoteID, err)
				}
				imported++
			}
			deps.Log.Info("imported %d of %d remote users", imported, len(users))
			return nil
		},
		func(ctx context.Context, conn Connector) error {
			return conn.Exec(ctx, `DROP TABLE IF EXISTS remote_user_store;`)
		},
	)
}
