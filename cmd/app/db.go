package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/maloquacious/bridgestore/internal/store"
)

var upgradeTarget int

func newDBCmd() *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	dbCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and initialize the datastore",
		RunE:  runDBCreate,
	}
	dbUpgradeCmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Apply migrations up to the latest or --target schema version",
		RunE:  runDBUpgrade,
	}
	dbUpgradeCmd.Flags().IntVar(&upgradeTarget, "target", 0, "schema version to stop at (0 means latest)")
	dbVerifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify schema version and print a JSON summary",
		RunE:  runDBVerify,
	}
	dbBackupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Copy the database file to <file>" + store.BackupSuffix,
		RunE:  runDBBackup,
	}
	dbVersionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the application and schema versions",
		RunE:  runDBVersion,
	}

	dbCmd.AddCommand(dbCreateCmd, dbUpgradeCmd, dbVerifyCmd, dbBackupCmd, dbVersionCmd)
	return dbCmd
}

func runDBCreate(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	if path := a.cfg.Database.Filename; path != "" && path != store.MemoryPath {
		exists, err := store.CheckExists(path)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("datastore %s already exists, use db upgrade", path)
		}
	}

	if err := a.initStore(cmd, 0); err != nil {
		return err
	}
	a.log.Info("datastore created at schema v%d", a.store.Version(cmd.Context()))
	return nil
}

func runDBUpgrade(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	target := a.cfg.Database.TargetVersion
	if upgradeTarget != 0 {
		target = upgradeTarget
	}
	if err := a.initStore(cmd, target); err != nil {
		return err
	}
	a.log.Info("datastore at schema v%d", a.store.Version(cmd.Context()))
	return nil
}

type verifySummary struct {
	State         string `json:"state"`
	SchemaVersion int    `json:"schemaVersion"`
	LatestSchema  int    `json:"latestSchema"`
	OK            bool   `json:"ok"`
}

// runDBVerify reports the datastore state without migrating it.
func runDBVerify(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	summary := verifySummary{LatestSchema: a.store.LatestVersion()}
	state := store.StateMissing
	if path := a.cfg.Database.Filename; path != "" && path != store.MemoryPath {
		exists, err := store.CheckExists(path)
		if err != nil {
			return err
		}
		if !exists {
			summary.State = state.String()
			return printVerify(summary)
		}
	}

	if err := a.store.Open(cmd.Context()); err != nil {
		return err
	}
	state, err = a.store.CheckState(cmd.Context())
	if err != nil {
		return err
	}
	summary.State = state.String()
	summary.SchemaVersion = a.store.Version(cmd.Context())
	summary.OK = state == store.StateReady
	return printVerify(summary)
}

func printVerify(summary verifySummary) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return err
	}
	if !summary.OK {
		return fmt.Errorf("datastore is %s", summary.State)
	}
	return nil
}

func runDBBackup(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.store.Open(cmd.Context()); err != nil {
		return err
	}
	return a.store.Backup(cmd.Context())
}

func runDBVersion(cmd *cobra.Command, args []string) error {
	fmt.Printf("app %s\n", version.String())
	fmt.Printf("latest schema v%d\n", store.LatestSchema)
	if buildDate != "" {
		fmt.Printf("built %s\n", buildDate)
	}
	return nil
}
