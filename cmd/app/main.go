package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/maloquacious/semver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/maloquacious/bridgestore/internal/config"
	"github.com/maloquacious/bridgestore/internal/logger"
	"github.com/maloquacious/bridgestore/internal/store"
	"github.com/maloquacious/bridgestore/internal/store/backend"
)

var (
	version   = semver.Version{Minor: 1, PreRelease: "alpha", Build: semver.Commit()}
	buildDate = ""
)

var (
	configPath string
	dbFile     string
	logLevel   string
	shutdownTO time.Duration
)

// app is what every command gets after config and logging are set up.
type app struct {
	cfg      config.Config
	log      logger.Logger
	registry *prometheus.Registry
	store    *store.Store
	closers  []io.Closer
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "app",
		Short:         "Bridge datastore server and admin CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbFile, "db", "", "SQLite database file (overrides database.filename)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides logging.level)")
	rootCmd.PersistentFlags().DurationVar(&shutdownTO, "shutdown-timeout", 15*time.Second, "graceful shutdown timeout")

	rootCmd.AddCommand(newServeCmd(), newDBCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger, metrics registry
// and store. The store is created but not opened.
func setup() (*app, error) {
	cfg, err := config.Load(configPath, func(c *config.Config) {
		if dbFile != "" {
			c.Database.Filename = dbFile
		}
		if logLevel != "" {
			c.Logging.Level = logLevel
		}
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	var out io.Writer = os.Stderr
	if cfg.Logging.File != "" {
		rw, err := logger.NewRotatingWriter(logger.RotationConfig{
			File:      cfg.Logging.File,
			MaxSizeMB: cfg.Logging.MaxSizeMB,
			MaxFiles:  cfg.Logging.MaxFiles,
		})
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stderr, rw)
		a.closers = append(a.closers, rw)
	}
	log, err := logger.NewLogrus(out, cfg.Logging.Level)
	if err != nil {
		a.close()
		return nil, err
	}
	a.log = log

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	conn, err := backend.New(cfg.Database, logger.With(a.log, "component", "store"))
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store.New(conn, store.Options{
		Logger:              logger.With(a.log, "component", "store"),
		BackupBeforeMigrate: cfg.Database.BackupBeforeMigrate,
		Registerer:          a.registry,
	})
	a.closers = append([]io.Closer{a.store}, a.closers...)
	return a, nil
}

// initStore runs the store migrations with the configured target version.
// A fatal failure leaves the database in an unknown state and says so.
func (a *app) initStore(cmd *cobra.Command, target int) error {
	err := a.store.Init(cmd.Context(), store.InitOptions{TargetVersion: target})
	if err == nil {
		return nil
	}
	if store.IsFatal(err) {
		a.log.Error("database left in an indeterminate state: %v", err)
		if a.cfg.Database.Filename != "" && a.cfg.Database.BackupBeforeMigrate {
			a.log.Error("restore %s%s before retrying", a.cfg.Database.Filename, store.BackupSuffix)
		}
	}
	return err
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil && a.log != nil {
			a.log.Warn("close: %v", err)
		}
	}
	a.closers = nil
}
