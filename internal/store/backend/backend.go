// Package backend selects the store connector named by the configuration.
package backend

import (
	"errors"

	"github.com/maloquacious/bridgestore/internal/config"
	"github.com/maloquacious/bridgestore/internal/logger"
	"github.com/maloquacious/bridgestore/internal/store"
	"github.com/maloquacious/bridgestore/internal/store/postgres"
	"github.com/maloquacious/bridgestore/internal/store/sqlite"
)

// ErrNoBackend is returned when neither a filename nor a connection string is configured.
var ErrNoBackend = errors.New("no database filename or connection string configured")

// New returns the connector for cfg. A filename selects SQLite and wins
// over a connection string, which selects PostgreSQL.
func New(cfg config.Database, log logger.Logger) (store.Connector, error) {
	switch {
	case cfg.Filename != "":
		if cfg.ConnectionString != "" {
			log.Warn("both database.filename and database.connectionString are set, using %s", cfg.Filename)
		}
		log.Info("using sqlite database %s", cfg.Filename)
		return sqlite.New(cfg.Filename), nil
	case cfg.ConnectionString != "":
		log.Info("using postgres database")
		return postgres.New(cfg.ConnectionString, int32(cfg.MaxConns)), nil
	default:
		return nil, ErrNoBackend
	}
}
