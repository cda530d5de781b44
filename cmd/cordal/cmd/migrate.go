package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cordal/gateway/internal/gatewayconfig"
	"github.com/cordal/gateway/internal/storemigrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the store-source configuration schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every not-yet-applied migration",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := gatewayconfig.Load(configPath)
		if err != nil {
			return err
		}
		db, err := openStoreDB(cfg.ConfigSource.StoreDriver, cfg.ConfigSource.StoreDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		return storemigrate.Up(db.DB, cfg.ConfigSource.StoreDriver, storemigrate.DefaultDir, nil)
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := gatewayconfig.Load(configPath)
		if err != nil {
			return err
		}
		db, err := openStoreDB(cfg.ConfigSource.StoreDriver, cfg.ConfigSource.StoreDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		return storemigrate.Status(db.DB, cfg.ConfigSource.StoreDriver, storemigrate.DefaultDir)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}
