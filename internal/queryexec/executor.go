// Package queryexec implements the Query Executor / Repository (C4):
// binding typed, declared-order parameters into a QueryDefinition's SQL
// and streaming the result into an ordered sequence of column maps,
// without ever exposing a driver type to callers. Rows scan into maps
// via sqlx's MapScan since result schemas are unknown at compile time.
package queryexec

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cordal/gateway/internal/cordalerr"
	"github.com/cordal/gateway/internal/dbpool"
	"github.com/cordal/gateway/internal/model"
)

// Row is one result row, column name to decoded value, in statement
// column order (order is recorded separately since Go maps are unordered).
type Row map[string]interface{}

// Result is an executed query's full row set plus its column order.
type Result struct {
	Columns []string
	Rows    []Row
}

// Params holds the caller-supplied raw values keyed by parameter name,
// exactly as extracted by the dispatcher (C8) — source-agnostic at this
// layer.
type Params map[string]interface{}

// Executor runs QueryDefinitions against pools obtained from a
// dbpool.Manager.
type Executor struct {
	pools *dbpool.Manager
}

// New creates an Executor bound to a pool manager.
func New(pools *dbpool.Manager) *Executor {
	return &Executor{pools: pools}
}

// bind coerces and orders raw params per the query's declared parameter
// list, applying defaults and enforcing required/type rules. Extra
// positional args (e.g. LIMIT/OFFSET) are appended verbatim, honoring the
// "never splice SQL text" rule — pagination is always two
// trailing bind variables, never string concatenation.
func bind(q *model.QueryDefinition, params Params, extra ...interface{}) ([]interface{}, error) {
	args := make([]interface{}, 0, len(q.Parameters)+len(extra))
	for _, p := range q.Parameters {
		raw, present := params[p.Name]
		if !present || raw == nil {
			if p.Required {
				return nil, cordalerr.MissingParameter(p.Name)
			}
			raw = p.DefaultValue
		}
		val, err := coerce(p.ScalarType, raw)
		if err != nil {
			return nil, cordalerr.BadParameter(p.Name, err)
		}
		args = append(args, val)
	}
	args = append(args, extra...)
	return args, nil
}

func coerce(t model.ScalarType, raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case string:
		return coerceString(t, v)
	default:
		// Already a native type (e.g. from a JSON body): pass through for
		// numeric/bool kinds that JSON decoding produced directly.
		return raw, nil
	}
}

func coerceString(t model.ScalarType, s string) (interface{}, error) {
	switch t {
	case model.ScalarString:
		return s, nil
	case model.ScalarInt:
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", s)
		}
		return n, nil
	case model.ScalarLong:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not a long: %q", s)
		}
		return n, nil
	case model.ScalarDouble:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("not a double: %q", s)
		}
		return n, nil
	case model.ScalarBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("not a bool: %q", s)
		}
		return b, nil
	case model.ScalarTimestamp:
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("not an ISO-8601 timestamp: %q", s)
		}
		return ts, nil
	default:
		return nil, fmt.Errorf("unknown scalar type %q", t)
	}
}

// Execute binds params and runs q, returning rows in statement column
// order. When limit and offset are both non-nil, Execute appends a
// trailing " LIMIT ? OFFSET ?" to the SQL text and binds the two values
// as the last arguments; the values are never spliced into the SQL text.
func (e *Executor) Execute(ctx context.Context, q *model.QueryDefinition, params Params, limit, offset *int64) (*Result, error) {
	pool, err := e.pools.DataSource(ctx, q.DatabaseName)
	if err != nil {
		return nil, err
	}

	sqlText := q.SQL
	var extra []interface{}
	if limit != nil && offset != nil {
		sqlText = sqlText + " LIMIT ? OFFSET ?"
		extra = append(extra, *limit, *offset)
	}

	args, err := bind(q, params, extra...)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, q.Timeout())
	defer cancel()

	rebound := pool.DB().Rebind(sqlText)
	rows, err := pool.DB().QueryxContext(execCtx, rebound, args...)
	if err != nil {
		return nil, cordalerr.QueryFailed(q.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, cordalerr.QueryFailed(q.Name, err)
	}

	result := &Result{Columns: cols}
	for rows.Next() {
		m := make(map[string]interface{}, len(cols))
		if err := rows.MapScan(m); err != nil {
			return nil, cordalerr.QueryFailed(q.Name, err)
		}
		result.Rows = append(result.Rows, Row(m))
	}
	if err := rows.Err(); err != nil {
		return nil, cordalerr.QueryFailed(q.Name, err)
	}
	return result, nil
}

// ExecuteCount runs q (expected to be a paired COUNT query) and returns
// its single numeric column.
func (e *Executor) ExecuteCount(ctx context.Context, q *model.QueryDefinition, params Params) (int64, error) {
	pool, err := e.pools.DataSource(ctx, q.DatabaseName)
	if err != nil {
		return 0, err
	}
	args, err := bind(q, params)
	if err != nil {
		return 0, err
	}

	execCtx, cancel := context.WithTimeout(ctx, q.Timeout())
	defer cancel()

	rebound := pool.DB().Rebind(q.SQL)
	row := pool.DB().QueryRowxContext(execCtx, rebound, args...)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, cordalerr.QueryFailed(q.Name, err)
	}
	return count, nil
}

// PlaceholderCount returns the number of positional "?" placeholders in
// sqlText, ignoring occurrences inside string literals or comments. Used
// by the Configuration Validator (C2); kept here since it operates on the
// same SQL text the executor binds against.
func PlaceholderCount(sqlText string) int {
	return len(scanPlaceholders(sqlText))
}

// scanPlaceholders tokenizes sqlText well enough to find bind-parameter
// "?" characters outside of '...' / "..." string literals and
// -- / /* */ comments, where a bare regex would miscount.
func scanPlaceholders(sqlText string) []int {
	var positions []int
	runes := []rune(sqlText)
	i := 0
	for i < len(runes) {
		c := runes[i]
		switch {
		case c == '\'' || c == '"':
			quote := c
			i++
			for i < len(runes) {
				if runes[i] == quote {
					if i+1 < len(runes) && runes[i+1] == quote {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
		case c == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i += 2
		case c == '?':
			positions = append(positions, i)
			i++
		default:
			i++
		}
	}
	return positions
}
