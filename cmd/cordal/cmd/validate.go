package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cordal/gateway/internal/configsource"
	"github.com/cordal/gateway/internal/configvalidate"
	"github.com/cordal/gateway/internal/dbpool"
	"github.com/cordal/gateway/internal/gatewayconfig"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate configuration without serving it",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runValidate(configPath)
	},
}

func runValidate(configPath string) error {
	cfg, err := gatewayconfig.Load(configPath)
	if err != nil {
		return err
	}

	var loader configsource.Loader
	if cfg.IsStoreSource() {
		db, err := openStoreDB(cfg.ConfigSource.StoreDriver, cfg.ConfigSource.StoreDSN)
		if err != nil {
			return err
		}
		loader, err = configsource.New(configsource.SourceStore, nil, db)
		if err != nil {
			return err
		}
	} else {
		loader, err = configsource.New(configsource.SourceFile, cfg.ConfigSource.Directories, nil)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	set, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}

	pools := dbpool.NewManager(nil)
	defer pools.Shutdown()
	if err := pools.EnsureAll(ctx, set.Databases); err != nil {
		fmt.Fprintf(os.Stderr, "warning: not every database is reachable: %v\n", err)
	}

	report := configvalidate.Validate(ctx, set, &poolInspectors{pools: pools})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)

	if !report.OK() {
		os.Exit(1)
	}
	return nil
}
