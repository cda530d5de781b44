// Package model holds the persistent configuration entities CORDAL wires at
// runtime: databases, queries, endpoints, and the snapshot/delta types used
// to move between configuration generations.
package model

import (
	"fmt"
	"time"
)

// ScalarType is the declared type of a query parameter.
type ScalarType string

const (
	ScalarString    ScalarType = "STRING"
	ScalarInt       ScalarType = "INT"
	ScalarLong      ScalarType = "LONG"
	ScalarDouble    ScalarType = "DOUBLE"
	ScalarBool      ScalarType = "BOOL"
	ScalarTimestamp ScalarType = "TIMESTAMP"
)

// ParamSource is where a bound parameter's value is read from on a request.
type ParamSource string

const (
	SourcePath  ParamSource = "PATH"
	SourceQuery ParamSource = "QUERY"
	SourceBody  ParamSource = "BODY"
)

// DatabaseDefinition describes one pooled backend database.
type DatabaseDefinition struct {
	Name                string        `yaml:"name" json:"name" validate:"required"`
	URL                 string        `yaml:"url" json:"url" validate:"required"`
	Driver              string        `yaml:"driver" json:"driver" validate:"required,oneof=postgres mysql sqlite"`
	Username            string        `yaml:"username,omitempty" json:"username,omitempty"`
	Password            string        `yaml:"password,omitempty" json:"password,omitempty"`
	MaxPoolSize         int           `yaml:"maxPoolSize" json:"maxPoolSize"`
	MinIdle             int           `yaml:"minIdle" json:"minIdle"`
	ConnectionTimeoutMs int           `yaml:"connectionTimeoutMs" json:"connectionTimeoutMs"`
	IdleTimeoutMs       int           `yaml:"idleTimeoutMs" json:"idleTimeoutMs"`
	MaxLifetimeMs       int           `yaml:"maxLifetimeMs" json:"maxLifetimeMs"`
	LeakDetectionMs     int           `yaml:"leakDetectionMs" json:"leakDetectionMs"`
	HealthCheckQuery    string        `yaml:"healthCheckQuery,omitempty" json:"healthCheckQuery,omitempty"`
	Description         string        `yaml:"description,omitempty" json:"description,omitempty"`
}

// Validate checks the pool-parameter invariants.
func (d *DatabaseDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("database: name is required")
	}
	if d.MinIdle < 0 || d.MaxPoolSize <= 0 || d.MinIdle > d.MaxPoolSize {
		return fmt.Errorf("database %q: pool parameters must satisfy 0 <= minIdle(%d) <= maxPoolSize(%d)", d.Name, d.MinIdle, d.MaxPoolSize)
	}
	if d.ConnectionTimeoutMs <= 0 {
		return fmt.Errorf("database %q: connectionTimeoutMs must be positive", d.Name)
	}
	return nil
}

// QueryParameter is one positional, typed parameter bound to a query's SQL.
type QueryParameter struct {
	Name         string      `yaml:"name" json:"name" validate:"required"`
	ScalarType   ScalarType  `yaml:"type" json:"type" validate:"required"`
	Required     bool        `yaml:"required" json:"required"`
	DefaultValue interface{} `yaml:"defaultValue,omitempty" json:"defaultValue,omitempty"`
	Source       ParamSource `yaml:"source" json:"source" validate:"required"`
}

// QueryDefinition is a named SQL statement with an ordered parameter list.
type QueryDefinition struct {
	Name         string `yaml:"name" json:"name" validate:"required"`
	Description  string `yaml:"description,omitempty" json:"description,omitempty"`
	DatabaseName string `yaml:"databaseName" json:"databaseName" validate:"required"`
	SQL          string `yaml:"sql" json:"sql" validate:"required"`
	// QueryType is stored and decoded but not interpreted; reads stay the
	// only execution path regardless of its value.
	QueryType  string           `yaml:"queryType,omitempty" json:"queryType,omitempty"`
	Parameters []QueryParameter `yaml:"parameters" json:"parameters"`
	TimeoutMs  int              `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty"`
}

// Timeout returns the configured query timeout, defaulting to 30s
func (q *QueryDefinition) Timeout() time.Duration {
	if q.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(q.TimeoutMs) * time.Millisecond
}

// PaginationSpec configures limit/offset pagination for an endpoint.
type PaginationSpec struct {
	Enabled     bool `yaml:"enabled" json:"enabled"`
	DefaultSize int  `yaml:"defaultSize" json:"defaultSize"`
	MaxSize     int  `yaml:"maxSize" json:"maxSize"`
}

// CacheSpec configures response caching for an endpoint.
type CacheSpec struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	CacheName  string `yaml:"cacheName" json:"cacheName"`
	TTLSeconds int    `yaml:"ttlSeconds" json:"ttlSeconds"`
	KeyPattern string `yaml:"keyPattern,omitempty" json:"keyPattern,omitempty"`
}

// RateLimitSpec caps how many requests an endpoint serves per
// fixed window.
type RateLimitSpec struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	Requests      int  `yaml:"requests" json:"requests"`
	WindowSeconds int  `yaml:"windowSeconds" json:"windowSeconds"`
}

// ResponseShape controls envelope wrapping of a query's result.
type ResponseShape struct {
	Wrap     bool              `yaml:"wrap" json:"wrap"`
	Scalar   bool              `yaml:"scalar,omitempty" json:"scalar,omitempty"`
	FieldMap map[string]string `yaml:"fieldMap,omitempty" json:"fieldMap,omitempty"`
}

// EndpointDefinition binds an HTTP route to a query (and optional count query).
type EndpointDefinition struct {
	Name           string          `yaml:"name" json:"name" validate:"required"`
	Description    string          `yaml:"description,omitempty" json:"description,omitempty"`
	Path           string          `yaml:"path" json:"path" validate:"required"`
	Method         string          `yaml:"method" json:"method" validate:"required,oneof=GET POST PUT DELETE"`
	QueryName      string          `yaml:"queryName" json:"queryName" validate:"required"`
	CountQueryName string          `yaml:"countQueryName,omitempty" json:"countQueryName,omitempty"`
	Pagination     *PaginationSpec `yaml:"pagination,omitempty" json:"pagination,omitempty"`
	Cache          *CacheSpec      `yaml:"cache,omitempty" json:"cache,omitempty"`
	RateLimit      *RateLimitSpec  `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`
	ResponseShape  *ResponseShape  `yaml:"responseShape,omitempty" json:"responseShape,omitempty"`
	// ResponseFormat is reserved for a future response-shaping mode. Decoded, never interpreted.
	ResponseFormat string `yaml:"responseFormat,omitempty" json:"responseFormat,omitempty"`
}

// PaginationEnabled reports whether this endpoint paginates its results.
func (e *EndpointDefinition) PaginationEnabled() bool {
	return e.Pagination != nil && e.Pagination.Enabled
}

// CacheEnabled reports whether this endpoint caches its results.
func (e *EndpointDefinition) CacheEnabled() bool {
	return e.Cache != nil && e.Cache.Enabled
}

// RateLimitEnabled reports whether this endpoint enforces a request cap.
func (e *EndpointDefinition) RateLimitEnabled() bool {
	return e.RateLimit != nil && e.RateLimit.Enabled && e.RateLimit.Requests > 0
}

// ConfigSet is the triple of maps a Loader returns: name -> definition.
type ConfigSet struct {
	Databases map[string]*DatabaseDefinition
	Queries   map[string]*QueryDefinition
	Endpoints map[string]*EndpointDefinition
}

// NewConfigSet returns an empty, initialized ConfigSet.
func NewConfigSet() *ConfigSet {
	return &ConfigSet{
		Databases: make(map[string]*DatabaseDefinition),
		Queries:   make(map[string]*QueryDefinition),
		Endpoints: make(map[string]*EndpointDefinition),
	}
}

// Empty reports whether any of the three kinds is empty.
func (c *ConfigSet) Empty() bool {
	return len(c.Databases) == 0 || len(c.Queries) == 0 || len(c.Endpoints) == 0
}

// ConfigurationSnapshot is an immutable, versioned capture of a ConfigSet.
type ConfigurationSnapshot struct {
	Version   string
	Config    *ConfigSet
	Timestamp time.Time
}

// ConfigurationDelta is the per-kind added/updated/removed name sets between
// two snapshots.
type ConfigurationDelta struct {
	DatabasesAdded   []string `json:"databasesAdded,omitempty"`
	DatabasesUpdated []string `json:"databasesUpdated,omitempty"`
	DatabasesRemoved []string `json:"databasesRemoved,omitempty"`
	QueriesAdded     []string `json:"queriesAdded,omitempty"`
	QueriesUpdated   []string `json:"queriesUpdated,omitempty"`
	QueriesRemoved   []string `json:"queriesRemoved,omitempty"`
	EndpointsAdded   []string `json:"endpointsAdded,omitempty"`
	EndpointsUpdated []string `json:"endpointsUpdated,omitempty"`
	EndpointsRemoved []string `json:"endpointsRemoved,omitempty"`
}

// Empty reports whether the delta carries no changes at all.
func (d *ConfigurationDelta) Empty() bool {
	return len(d.DatabasesAdded) == 0 && len(d.DatabasesUpdated) == 0 && len(d.DatabasesRemoved) == 0 &&
		len(d.QueriesAdded) == 0 && len(d.QueriesUpdated) == 0 && len(d.QueriesRemoved) == 0 &&
		len(d.EndpointsAdded) == 0 && len(d.EndpointsUpdated) == 0 && len(d.EndpointsRemoved) == 0
}

// InvalidationRule reacts to an event type by removing matching cache keys.
type InvalidationRule struct {
	EventType string        `yaml:"eventType" json:"eventType" validate:"required"`
	Patterns  []string      `yaml:"patterns" json:"patterns" validate:"required"`
	Caches    []string      `yaml:"caches,omitempty" json:"caches,omitempty"`
	Condition string        `yaml:"condition,omitempty" json:"condition,omitempty"`
	Delay     time.Duration `yaml:"delay,omitempty" json:"delay,omitempty"`
	Async     bool          `yaml:"async,omitempty" json:"async,omitempty"`
}
