package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cordal/gateway/internal/cache"
	"github.com/cordal/gateway/internal/configsource"
	"github.com/cordal/gateway/internal/configstate"
	"github.com/cordal/gateway/internal/configvalidate"
	"github.com/cordal/gateway/internal/dbpool"
	"github.com/cordal/gateway/internal/eventbus"
	"github.com/cordal/gateway/internal/gatewayconfig"
	"github.com/cordal/gateway/internal/httpapi"
	"github.com/cordal/gateway/internal/model"
	"github.com/cordal/gateway/internal/queryexec"
	"github.com/cordal/gateway/internal/reload"
	"github.com/cordal/gateway/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runServe(configPath)
	},
}

// poolInspectors adapts *dbpool.Manager to configvalidate.Inspectors —
// dbpool.Manager.Inspector already returns a value satisfying
// configvalidate.SchemaInspector's method set, so no wrapping beyond the
// signature is needed.
type poolInspectors struct {
	pools *dbpool.Manager
}

func (p *poolInspectors) Inspector(ctx context.Context, name string) (configvalidate.SchemaInspector, bool) {
	return p.pools.Inspector(ctx, name)
}

func runServe(configPath string) error {
	cfg, err := gatewayconfig.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	logger.Info("starting cordal", "config_source", cfg.ConfigSource.Selector, "port", cfg.Server.Port)

	var loader configsource.Loader
	if cfg.IsStoreSource() {
		db, err := openStoreDB(cfg.ConfigSource.StoreDriver, cfg.ConfigSource.StoreDSN)
		if err != nil {
			return err
		}
		if cfg.ConfigSource.ImportOnEmpty {
			importCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			imported, err := configsource.ImportIfEmpty(importCtx, db,
				configsource.NewFileLoader(cfg.ConfigSource.Directories), logger)
			cancel()
			if err != nil {
				return err
			}
			if imported {
				logger.Info("empty store seeded from file-source directories", "directories", cfg.ConfigSource.Directories)
			}
		}
		loader, err = configsource.New(configsource.SourceStore, nil, db)
		if err != nil {
			return err
		}
	} else {
		fl := configsource.NewFileLoader(cfg.ConfigSource.Directories)
		if len(cfg.Watcher.DatabaseGlobs) > 0 {
			fl.DatabaseGlobs = cfg.Watcher.DatabaseGlobs
		}
		if len(cfg.Watcher.QueryGlobs) > 0 {
			fl.QueryGlobs = cfg.Watcher.QueryGlobs
		}
		if len(cfg.Watcher.EndpointGlobs) > 0 {
			fl.EndpointGlobs = cfg.Watcher.EndpointGlobs
		}
		loader = fl
	}

	pools := dbpool.NewManager(logger)
	cacheLayer := cache.NewLayer(cfg.Cache.SweepInterval)
	bus := eventbus.New(16, 256, logger)
	invalidator := eventbus.NewInvalidator(bus, cacheLayer, logger)
	executor := queryexec.New(pools)
	state := configstate.New(cfg.Reload.HistoryLimit)

	validate := func(ctx context.Context, c *model.ConfigSet) *configvalidate.Report {
		return configvalidate.Validate(ctx, c, &poolInspectors{pools: pools})
	}

	orchestrator := reload.New(loader, validate, state, pools, cacheLayer, invalidator, reload.Options{
		MaxAttempts:            cfg.Reload.MaxAttempts,
		CacheDefaultMaxEntries: cfg.Cache.DefaultMaxEntries,
		CacheDefaultTTL:        cfg.Cache.DefaultTTL,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := orchestrator.Reload(ctx, reload.TriggerForced, false); err != nil {
		cancel()
		return err
	}
	cancel()

	server := httpapi.New(httpapi.Deps{
		Config:       cfg.Server,
		Metrics:      cfg.Metrics,
		Orchestrator: orchestrator,
		State:        state,
		Pools:        pools,
		CacheLayer:   cacheLayer,
		Executor:     executor,
		Bus:          bus,
		Validate: func(ctx context.Context, m *configstate.Manager) *configvalidate.Report {
			live := m.Live()
			if live == nil || live.Config == nil {
				return &configvalidate.Report{}
			}
			return validate(ctx, live.Config)
		},
		Logger: logger,
	})

	var fileWatcher *watcher.Watcher
	if !cfg.IsStoreSource() && cfg.Watcher.Enabled {
		fileWatcher, err = watcher.New(cfg.ConfigSource.Directories, watchGlobs(cfg.Watcher), cfg.Watcher.Debounce, logger)
		if err != nil {
			return err
		}
		fileWatcher.Subscribe(func(watcher.Change) {
			reloadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			result, err := orchestrator.Reload(reloadCtx, reload.TriggerFile, false)
			if err != nil {
				logger.Error("file-triggered reload failed", "error", err)
				return
			}
			if result.Success {
				server.Remount()
			}
		})
		fileWatcher.Start()
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = server.Run(runCtx)

	if fileWatcher != nil {
		fileWatcher.Close()
	}
	invalidator.CancelPending()
	bus.Shutdown()
	cacheLayer.Shutdown()
	pools.Shutdown()

	return err
}

// watchGlobs flattens the per-kind watcher globs into the single list
// the watcher filters on, falling back to the loader's defaults for any
// kind left unconfigured.
func watchGlobs(cfg gatewayconfig.WatcherConfig) []string {
	dbGlobs := cfg.DatabaseGlobs
	if len(dbGlobs) == 0 {
		dbGlobs = configsource.DefaultDatabaseGlobs
	}
	queryGlobs := cfg.QueryGlobs
	if len(queryGlobs) == 0 {
		queryGlobs = configsource.DefaultQueryGlobs
	}
	epGlobs := cfg.EndpointGlobs
	if len(epGlobs) == 0 {
		epGlobs = configsource.DefaultEndpointGlobs
	}
	var globs []string
	globs = append(globs, dbGlobs...)
	globs = append(globs, queryGlobs...)
	globs = append(globs, epGlobs...)
	globs = append(globs, configsource.DefaultRuleGlobs...)
	return globs
}

func newLogger(cfg gatewayconfig.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
