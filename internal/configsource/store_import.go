package configsource

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/cordal/gateway/internal/model"
)

// ImportIfEmpty seeds an empty configuration store from a file-source
// loader's definitions, in one transaction. A store that already holds
// any database definition is left untouched. Returns true when an
// import ran.
func ImportIfEmpty(ctx context.Context, db *sqlx.DB, files *FileLoader, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var existing int
	if err := db.GetContext(ctx, &existing, `SELECT count(*) FROM config_databases`); err != nil {
		return false, fmt.Errorf("configsource: probing store for existing definitions: %w", err)
	}
	if existing > 0 {
		return false, nil
	}

	cfg, err := files.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("configsource: loading file-source definitions for import: %w", err)
	}
	rules, err := files.LoadRules(ctx)
	if err != nil {
		return false, fmt.Errorf("configsource: loading invalidation rules for import: %w", err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if err := importDatabases(ctx, tx, cfg.Databases); err != nil {
		return false, err
	}
	if err := importQueries(ctx, tx, cfg.Queries); err != nil {
		return false, err
	}
	if err := importEndpoints(ctx, tx, cfg.Endpoints); err != nil {
		return false, err
	}
	if err := importRules(ctx, tx, rules); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	logger.Info("imported file-source configuration into empty store",
		"databases", len(cfg.Databases), "queries", len(cfg.Queries), "endpoints", len(cfg.Endpoints), "rules", len(rules))
	return true, nil
}

func importDatabases(ctx context.Context, tx *sqlx.Tx, dbs map[string]*model.DatabaseDefinition) error {
	stmt := tx.Rebind(`INSERT INTO config_databases
		(name, url, username, password, driver, max_pool_size, min_idle, connection_timeout,
		 idle_timeout, max_lifetime, leak_detection_threshold, connection_test_query, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, name := range sortedKeys(dbs) {
		d := dbs[name]
		if _, err := tx.ExecContext(ctx, stmt, d.Name, d.URL, d.Username, d.Password, d.Driver,
			d.MaxPoolSize, d.MinIdle, d.ConnectionTimeoutMs, d.IdleTimeoutMs, d.MaxLifetimeMs,
			d.LeakDetectionMs, d.HealthCheckQuery, d.Description); err != nil {
			return fmt.Errorf("configsource: importing database %q: %w", name, err)
		}
	}
	return nil
}

func importQueries(ctx context.Context, tx *sqlx.Tx, queries map[string]*model.QueryDefinition) error {
	queryStmt := tx.Rebind(`INSERT INTO config_queries
		(name, description, database_name, sql_query, query_type, timeout_seconds)
		VALUES (?, ?, ?, ?, ?, ?)`)
	paramStmt := tx.Rebind(`INSERT INTO config_query_parameters
		(query_name, position, name, scalar_type, required, default_value, source)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	for _, name := range sortedKeys(queries) {
		q := queries[name]
		// The store column holds whole seconds; sub-second file-source
		// timeouts round up so an import never tightens a timeout.
		timeoutSeconds := (q.TimeoutMs + 999) / 1000
		if _, err := tx.ExecContext(ctx, queryStmt, q.Name, q.Description, q.DatabaseName, q.SQL,
			q.QueryType, timeoutSeconds); err != nil {
			return fmt.Errorf("configsource: importing query %q: %w", name, err)
		}
		for i, p := range q.Parameters {
			def := ""
			if p.DefaultValue != nil {
				def = fmt.Sprintf("%v", p.DefaultValue)
			}
			if _, err := tx.ExecContext(ctx, paramStmt, q.Name, i, p.Name, string(p.ScalarType), p.Required, def, string(p.Source)); err != nil {
				return fmt.Errorf("configsource: importing parameter %q of query %q: %w", p.Name, name, err)
			}
		}
	}
	return nil
}

func importEndpoints(ctx context.Context, tx *sqlx.Tx, endpoints map[string]*model.EndpointDefinition) error {
	stmt := tx.Rebind(`INSERT INTO config_endpoints
		(name, description, path, method, query_name, count_query_name, response_format,
		 pagination_enabled, default_size, max_size,
		 cache_enabled, cache_name, cache_ttl_seconds, cache_key_pattern,
		 rate_limit_enabled, rate_limit_requests, rate_limit_window_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, name := range sortedKeys(endpoints) {
		ep := endpoints[name]
		var countQuery interface{}
		if ep.CountQueryName != "" {
			countQuery = ep.CountQueryName
		}
		paginationOn, defaultSize, maxSize := false, 0, 0
		if ep.Pagination != nil {
			paginationOn, defaultSize, maxSize = ep.Pagination.Enabled, ep.Pagination.DefaultSize, ep.Pagination.MaxSize
		}
		cacheOn, cacheName, cacheTTL, keyPattern := false, "", 0, ""
		if ep.Cache != nil {
			cacheOn, cacheName, cacheTTL, keyPattern = ep.Cache.Enabled, ep.Cache.CacheName, ep.Cache.TTLSeconds, ep.Cache.KeyPattern
		}
		rateOn, rateRequests, rateWindow := false, 0, 0
		if ep.RateLimit != nil {
			rateOn, rateRequests, rateWindow = ep.RateLimit.Enabled, ep.RateLimit.Requests, ep.RateLimit.WindowSeconds
		}
		if _, err := tx.ExecContext(ctx, stmt, ep.Name, ep.Description, ep.Path, ep.Method, ep.QueryName,
			countQuery, ep.ResponseFormat, paginationOn, defaultSize, maxSize,
			cacheOn, cacheName, cacheTTL, keyPattern, rateOn, rateRequests, rateWindow); err != nil {
			return fmt.Errorf("configsource: importing endpoint %q: %w", name, err)
		}
	}
	return nil
}

func importRules(ctx context.Context, tx *sqlx.Tx, rules []model.InvalidationRule) error {
	stmt := tx.Rebind(`INSERT INTO config_invalidation_rules
		(event_type, pattern, caches, condition_expr, delay_ms, async)
		VALUES (?, ?, ?, ?, ?, ?)`)
	for _, rule := range rules {
		caches := strings.Join(rule.Caches, ",")
		for _, pattern := range rule.Patterns {
			if _, err := tx.ExecContext(ctx, stmt, rule.EventType, pattern, caches, rule.Condition,
				int(rule.Delay.Milliseconds()), rule.Async); err != nil {
				return fmt.Errorf("configsource: importing invalidation rule for %q: %w", rule.EventType, err)
			}
		}
	}
	return nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
