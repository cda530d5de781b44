package configsource

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/cordal/gateway/internal/model"
)

// StoreLoader reads the three configuration kinds from the
// config_databases/config_queries/config_endpoints tables of a
// relational store, selected via the store-source config option.
type StoreLoader struct {
	DB *sqlx.DB
}

// NewStoreLoader creates a StoreLoader reading from db.
func NewStoreLoader(db *sqlx.DB) *StoreLoader {
	return &StoreLoader{DB: db}
}

type databaseRow struct {
	Name                   string `db:"name"`
	URL                    string `db:"url"`
	Username               string `db:"username"`
	Password               string `db:"password"`
	Driver                 string `db:"driver"`
	MaxPoolSize            int    `db:"max_pool_size"`
	MinIdle                int    `db:"min_idle"`
	ConnectionTimeout      int    `db:"connection_timeout"`
	IdleTimeout            int    `db:"idle_timeout"`
	MaxLifetime            int    `db:"max_lifetime"`
	LeakDetectionThreshold int    `db:"leak_detection_threshold"`
	ConnectionTestQuery    string `db:"connection_test_query"`
	Description            string `db:"description"`
}

type queryRow struct {
	Name           string `db:"name"`
	Description    string `db:"description"`
	DatabaseName   string `db:"database_name"`
	SQL            string `db:"sql_query"`
	QueryType      string `db:"query_type"`
	TimeoutSeconds int    `db:"timeout_seconds"`
}

type queryParamRow struct {
	QueryName    string `db:"query_name"`
	Name         string `db:"name"`
	ScalarType   string `db:"scalar_type"`
	Required     bool   `db:"required"`
	DefaultValue string `db:"default_value"`
	Source       string `db:"source"`
}

type endpointRow struct {
	Name                   string `db:"name"`
	Description            string `db:"description"`
	Path                   string `db:"path"`
	Method                 string `db:"method"`
	QueryName              string `db:"query_name"`
	CountQueryName         string `db:"count_query_name"`
	ResponseFormat         string `db:"response_format"`
	PaginationOn           bool   `db:"pagination_enabled"`
	DefaultSize            int    `db:"default_size"`
	MaxSize                int    `db:"max_size"`
	CacheOn                bool   `db:"cache_enabled"`
	CacheName              string `db:"cache_name"`
	CacheTTLSeconds        int    `db:"cache_ttl_seconds"`
	CacheKeyPattern        string `db:"cache_key_pattern"`
	RateLimitOn            bool   `db:"rate_limit_enabled"`
	RateLimitRequests      int    `db:"rate_limit_requests"`
	RateLimitWindowSeconds int    `db:"rate_limit_window_seconds"`
}

func (l *StoreLoader) Load(ctx context.Context) (*model.ConfigSet, error) {
	cfg := model.NewConfigSet()

	var dbRows []databaseRow
	if err := l.DB.SelectContext(ctx, &dbRows, `SELECT name, url,
		COALESCE(username, '') AS username, COALESCE(password, '') AS password, driver,
		max_pool_size, min_idle, connection_timeout, idle_timeout, max_lifetime, leak_detection_threshold,
		COALESCE(connection_test_query, '') AS connection_test_query, COALESCE(description, '') AS description
		FROM config_databases`); err != nil {
		return nil, fmt.Errorf("configsource: reading config_databases: %w", err)
	}
	for _, r := range dbRows {
		cfg.Databases[r.Name] = &model.DatabaseDefinition{
			Name:                r.Name,
			URL:                 r.URL,
			Driver:              r.Driver,
			Username:            r.Username,
			Password:            r.Password,
			MaxPoolSize:         r.MaxPoolSize,
			MinIdle:             r.MinIdle,
			ConnectionTimeoutMs: r.ConnectionTimeout,
			IdleTimeoutMs:       r.IdleTimeout,
			MaxLifetimeMs:       r.MaxLifetime,
			LeakDetectionMs:     r.LeakDetectionThreshold,
			HealthCheckQuery:    r.ConnectionTestQuery,
			Description:         r.Description,
		}
	}

	var queryRows []queryRow
	if err := l.DB.SelectContext(ctx, &queryRows, `SELECT name, COALESCE(description, '') AS description,
		database_name, sql_query, COALESCE(query_type, '') AS query_type, timeout_seconds
		FROM config_queries`); err != nil {
		return nil, fmt.Errorf("configsource: reading config_queries: %w", err)
	}
	for _, r := range queryRows {
		cfg.Queries[r.Name] = &model.QueryDefinition{
			Name:         r.Name,
			Description:  r.Description,
			DatabaseName: r.DatabaseName,
			SQL:          r.SQL,
			QueryType:    r.QueryType,
			TimeoutMs:    r.TimeoutSeconds * 1000,
		}
	}

	// Parameters bind positionally, so declared order must survive the
	// round trip through the store.
	var paramRows []queryParamRow
	if err := l.DB.SelectContext(ctx, &paramRows, `SELECT query_name, name, scalar_type, required,
		COALESCE(default_value, '') AS default_value, source
		FROM config_query_parameters ORDER BY query_name, position`); err != nil {
		return nil, fmt.Errorf("configsource: reading config_query_parameters: %w", err)
	}
	for _, r := range paramRows {
		q, ok := cfg.Queries[r.QueryName]
		if !ok {
			continue
		}
		var def interface{}
		if r.DefaultValue != "" {
			def = r.DefaultValue
		}
		q.Parameters = append(q.Parameters, model.QueryParameter{
			Name:         r.Name,
			ScalarType:   model.ScalarType(r.ScalarType),
			Required:     r.Required,
			DefaultValue: def,
			Source:       model.ParamSource(r.Source),
		})
	}

	var epRows []endpointRow
	if err := l.DB.SelectContext(ctx, &epRows, `SELECT name, COALESCE(description, '') AS description,
		path, method, query_name, COALESCE(count_query_name, '') AS count_query_name,
		COALESCE(response_format, '') AS response_format, pagination_enabled, default_size, max_size,
		cache_enabled, COALESCE(cache_name, '') AS cache_name, cache_ttl_seconds,
		COALESCE(cache_key_pattern, '') AS cache_key_pattern,
		rate_limit_enabled, rate_limit_requests, rate_limit_window_seconds
		FROM config_endpoints`); err != nil {
		return nil, fmt.Errorf("configsource: reading config_endpoints: %w", err)
	}
	for _, r := range epRows {
		ep := &model.EndpointDefinition{
			Name:           r.Name,
			Description:    r.Description,
			Path:           r.Path,
			Method:         r.Method,
			QueryName:      r.QueryName,
			CountQueryName: r.CountQueryName,
			ResponseFormat: r.ResponseFormat,
		}
		if r.PaginationOn {
			ep.Pagination = &model.PaginationSpec{
				Enabled:     true,
				DefaultSize: r.DefaultSize,
				MaxSize:     r.MaxSize,
			}
		}
		if r.CacheOn {
			ep.Cache = &model.CacheSpec{
				Enabled:    true,
				CacheName:  r.CacheName,
				TTLSeconds: r.CacheTTLSeconds,
				KeyPattern: r.CacheKeyPattern,
			}
		}
		if r.RateLimitOn {
			ep.RateLimit = &model.RateLimitSpec{
				Enabled:       true,
				Requests:      r.RateLimitRequests,
				WindowSeconds: r.RateLimitWindowSeconds,
			}
		}
		cfg.Endpoints[r.Name] = ep
	}

	if err := checkNonEmpty(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
