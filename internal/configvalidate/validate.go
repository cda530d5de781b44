// Package configvalidate implements the Configuration Validator (C2):
// the ordered structural and (optionally) live-schema checks a loaded
// ConfigSet must pass before a reload is applied. Findings carry a code
// and a suggestion so operators can act on them without reading source.
package configvalidate

import (
	"context"
	"fmt"
	"strings"

	"github.com/cordal/gateway/internal/model"
	"github.com/cordal/gateway/internal/queryexec"
)

// Location pinpoints where in the configuration a finding applies.
type Location struct {
	Kind string `json:"kind"` // "database" | "query" | "endpoint"
	Name string `json:"name"`
}

// Error is one fatal validation failure.
type Error struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Location   Location `json:"location"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// Warning is one non-fatal validation finding, e.g. an unreachable
// database during the optional live check.
type Warning struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Location Location `json:"location"`
}

// Report is the outcome of validating a ConfigSet.
type Report struct {
	Errors    []Error   `json:"errors"`
	Warnings  []Warning `json:"warnings"`
	Successes []string  `json:"successes"`
}

// OK reports whether the configuration is free of fatal errors.
func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

func (r *Report) addError(code, message string, loc Location, suggestion string) {
	r.Errors = append(r.Errors, Error{Code: code, Message: message, Location: loc, Suggestion: suggestion})
}

func (r *Report) addWarning(code, message string, loc Location) {
	r.Warnings = append(r.Warnings, Warning{Code: code, Message: message, Location: loc})
}

func (r *Report) addSuccess(msg string) {
	r.Successes = append(r.Successes, msg)
}

// SchemaInspector is the driver-agnostic live-schema probe used by check
// 6. Each pool type (postgres/mysql/sqlite) implements it against its
// own catalog (information_schema, sqlite_master/pragma table_info)
// behind this one interface so the validator core never branches on
// driver.
type SchemaInspector interface {
	TableExists(ctx context.Context, table string) (bool, error)
	ColumnExists(ctx context.Context, table, column string) (bool, error)
}

// Inspectors resolves a SchemaInspector for a named database, returning
// ok=false when the database is currently unreachable — check 6 then
// degrades to a warning rather than a fatal error.
type Inspectors interface {
	Inspector(ctx context.Context, databaseName string) (SchemaInspector, bool)
}

// Validate runs the six ordered checks against cfg. The
// live-schema check (6) is skipped entirely when inspectors is nil.
func Validate(ctx context.Context, cfg *model.ConfigSet, inspectors Inspectors) *Report {
	report := &Report{}

	checkQueryNamesExist(cfg, report)
	checkPaginatedCountQueries(cfg, report)
	checkDatabaseNamesExist(cfg, report)
	checkPlaceholderArity(cfg, report)
	checkPathVariablesBound(cfg, report)
	if inspectors != nil {
		checkLiveSchema(ctx, cfg, inspectors, report)
	}

	return report
}

// 1. Every endpoint's queryName exists.
func checkQueryNamesExist(cfg *model.ConfigSet, report *Report) {
	for name, ep := range cfg.Endpoints {
		loc := Location{Kind: "endpoint", Name: name}
		if _, ok := cfg.Queries[ep.QueryName]; !ok {
			report.addError("E201", fmt.Sprintf("endpoint %q references unknown query %q", name, ep.QueryName), loc,
				"declare a query with this name or fix the endpoint's queryName")
			continue
		}
		report.addSuccess(fmt.Sprintf("endpoint %q: queryName %q resolves", name, ep.QueryName))
	}
}

// 2. Paginated endpoints have a countQueryName that exists.
func checkPaginatedCountQueries(cfg *model.ConfigSet, report *Report) {
	for name, ep := range cfg.Endpoints {
		if !ep.PaginationEnabled() {
			continue
		}
		loc := Location{Kind: "endpoint", Name: name}
		if ep.CountQueryName == "" {
			report.addError("E202", fmt.Sprintf("paginated endpoint %q has no countQueryName", name), loc,
				"set countQueryName to a query returning a single row/column count")
			continue
		}
		if _, ok := cfg.Queries[ep.CountQueryName]; !ok {
			report.addError("E203", fmt.Sprintf("endpoint %q references unknown countQuery %q", name, ep.CountQueryName), loc,
				"declare a query with this name or fix the endpoint's countQueryName")
			continue
		}
		if q, ok := cfg.Queries[ep.QueryName]; ok && sqlHasLimitOrOffset(q.SQL) {
			report.addError("E209", fmt.Sprintf("paginated endpoint %q binds query %q whose SQL already contains LIMIT/OFFSET", name, ep.QueryName), loc,
				"remove LIMIT/OFFSET from the query; pagination appends them as trailing bind variables")
			continue
		}
		report.addSuccess(fmt.Sprintf("endpoint %q: countQueryName %q resolves", name, ep.CountQueryName))
	}
}

// sqlHasLimitOrOffset reports whether sql carries its own LIMIT or
// OFFSET clause, which would collide with the pagination fragment the
// executor appends.
func sqlHasLimitOrOffset(sql string) bool {
	for _, tok := range tokenize(sql) {
		switch strings.ToUpper(tok) {
		case "LIMIT", "OFFSET":
			return true
		}
	}
	return false
}

// 3. Every query's databaseName exists.
func checkDatabaseNamesExist(cfg *model.ConfigSet, report *Report) {
	for name, q := range cfg.Queries {
		loc := Location{Kind: "query", Name: name}
		if _, ok := cfg.Databases[q.DatabaseName]; !ok {
			report.addError("E204", fmt.Sprintf("query %q references unknown database %q", name, q.DatabaseName), loc,
				"declare a database with this name or fix the query's databaseName")
			continue
		}
		report.addSuccess(fmt.Sprintf("query %q: databaseName %q resolves", name, q.DatabaseName))
	}
}

// 4. Number of "?" placeholders in SQL equals the number of declared parameters.
func checkPlaceholderArity(cfg *model.ConfigSet, report *Report) {
	for name, q := range cfg.Queries {
		loc := Location{Kind: "query", Name: name}
		count := queryexec.PlaceholderCount(q.SQL)
		if count != len(q.Parameters) {
			report.addError("E205", fmt.Sprintf("query %q has %d bind placeholder(s) but declares %d parameter(s)", name, count, len(q.Parameters)), loc,
				"add or remove declared parameters until their count matches the query's \"?\" placeholders")
			continue
		}
		report.addSuccess(fmt.Sprintf("query %q: placeholder arity matches (%d)", name, count))
	}
}

// 5. Every path variable {x} in an endpoint's path has a matching
// PATH-sourced parameter named x on its query.
func checkPathVariablesBound(cfg *model.ConfigSet, report *Report) {
	for name, ep := range cfg.Endpoints {
		loc := Location{Kind: "endpoint", Name: name}
		q, ok := cfg.Queries[ep.QueryName]
		if !ok {
			continue // already reported by check 1
		}
		pathVars := pathVariables(ep.Path)
		pathParams := make(map[string]bool, len(q.Parameters))
		for _, p := range q.Parameters {
			if p.Source == model.SourcePath {
				pathParams[p.Name] = true
			}
		}
		for _, v := range pathVars {
			if !pathParams[v] {
				report.addError("E206", fmt.Sprintf("endpoint %q path variable {%s} has no matching PATH parameter on query %q", name, v, ep.QueryName), loc,
					fmt.Sprintf("add a parameter named %q with source PATH to query %q", v, ep.QueryName))
			}
		}
		if len(pathVars) > 0 {
			report.addSuccess(fmt.Sprintf("endpoint %q: %d path variable(s) bound", name, len(pathVars)))
		}
	}
}

func pathVariables(path string) []string {
	var vars []string
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			vars = append(vars, seg[1:len(seg)-1])
		}
	}
	return vars
}
