// Package dispatch implements the Request Dispatcher (C8): parameter
// extraction and coercion, pagination clamping, cache-key construction,
// and response envelope assembly for each live endpoint. Which
// parameters exist and where they come from is driven entirely by the
// endpoint's bound model.QueryDefinition.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/cordal/gateway/internal/cache"
	"github.com/cordal/gateway/internal/cordalerr"
	"github.com/cordal/gateway/internal/eventbus"
	"github.com/cordal/gateway/internal/model"
	"github.com/cordal/gateway/internal/queryexec"
)

const (
	defaultPageSize = 20
	defaultMaxSize  = 200
)

// Queries resolves a query definition by name, the view the dispatcher
// needs onto the live configuration.
type Queries interface {
	Query(name string) (*model.QueryDefinition, bool)
}

// Dispatcher serves one HTTP request per live endpoint: rate-limit
// check, extract, cache lookup, execute, envelope.
type Dispatcher struct {
	Queries  Queries
	Executor *queryexec.Executor
	Cache    *cache.Layer
	Bus      *eventbus.Bus
	limiter  *rateLimiter
}

// New creates a Dispatcher bound to the live configuration view, the
// query executor, cache layer, and event bus.
func New(queries Queries, executor *queryexec.Executor, cacheLayer *cache.Layer, bus *eventbus.Bus) *Dispatcher {
	return &Dispatcher{Queries: queries, Executor: executor, Cache: cacheLayer, Bus: bus, limiter: newRateLimiter()}
}

// Handler builds the http.HandlerFunc bound to ep, to be mounted by the
// registry in specificity order.
func (d *Dispatcher) Handler(ep *model.EndpointDefinition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.serve(w, r, ep)
	}
}

func (d *Dispatcher) serve(w http.ResponseWriter, r *http.Request, ep *model.EndpointDefinition) {
	ctx := r.Context()

	if ep.RateLimitEnabled() && !d.limiter.allow(ep.Name, ep.RateLimit, time.Now()) {
		writeError(w, r, cordalerr.RateLimited(ep.Name))
		return
	}

	query, ok := d.Queries.Query(ep.QueryName)
	if !ok {
		writeError(w, r, cordalerr.New(cordalerr.CodeConfigInvalid, fmt.Sprintf("endpoint %q references unknown query %q", ep.Name, ep.QueryName)))
		return
	}

	params, err := extractParams(r, query)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if ep.PaginationEnabled() {
		d.servePaginated(ctx, w, r, ep, query, params)
		return
	}
	d.serveUnpaginated(ctx, w, r, ep, query, params)
}

// extractParams reads each declared parameter from its PATH/QUERY/BODY
// source in declared order; an absent parameter is left out of the map.
// Defaults, required checks and coercion all happen in queryexec.Execute
// (its bind step); here values stay strings (PATH/QUERY) or whatever
// JSON produced (BODY) so the executor's coerce() sees the same raw
// shape regardless of source.
func extractParams(r *http.Request, q *model.QueryDefinition) (queryexec.Params, error) {
	params := make(queryexec.Params, len(q.Parameters))

	var body map[string]interface{}
	if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err.Error() != "EOF" {
			return nil, cordalerr.Wrap(cordalerr.CodeBadRequest, "request body is not valid JSON", err)
		}
	}

	pathVars := mux.Vars(r)
	query := r.URL.Query()

	for _, p := range q.Parameters {
		var raw interface{}
		var present bool

		switch p.Source {
		case model.SourcePath:
			v, ok := pathVars[p.Name]
			raw, present = v, ok
		case model.SourceQuery:
			if query.Has(p.Name) {
				raw, present = query.Get(p.Name), true
			}
		case model.SourceBody:
			if body != nil {
				v, ok := body[p.Name]
				raw, present = v, ok
			}
		}

		if present {
			params[p.Name] = raw
		}
	}
	return params, nil
}

func (d *Dispatcher) serveUnpaginated(ctx context.Context, w http.ResponseWriter, r *http.Request, ep *model.EndpointDefinition, query *model.QueryDefinition, params queryexec.Params) {
	cacheKey := ""
	if ep.CacheEnabled() {
		cacheKey = buildCacheKey(ep, query, params)
		if cached, hit := d.Cache.Get(ep.Cache.CacheName, cacheKey); hit {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	result, err := d.Executor.Execute(ctx, query, params, nil, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}

	payload := shapeResult(ep, result)
	if ep.CacheEnabled() {
		ttl := time.Duration(ep.Cache.TTLSeconds) * time.Second
		d.Cache.Put(ep.Cache.CacheName, cacheKey, payload, ttl)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (d *Dispatcher) servePaginated(ctx context.Context, w http.ResponseWriter, r *http.Request, ep *model.EndpointDefinition, query *model.QueryDefinition, params queryexec.Params) {
	page, size := paginationParams(r, ep.Pagination)

	cacheKey := ""
	if ep.CacheEnabled() {
		cacheKey = buildCacheKey(ep, query, params) + fmt.Sprintf("&page=%d&size=%d", page, size)
		if cached, hit := d.Cache.Get(ep.Cache.CacheName, cacheKey); hit {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	var total int64
	if ep.CountQueryName != "" {
		countQuery, ok := d.Queries.Query(ep.CountQueryName)
		if !ok {
			writeError(w, r, cordalerr.New(cordalerr.CodeConfigInvalid, fmt.Sprintf("endpoint %q references unknown countQuery %q", ep.Name, ep.CountQueryName)))
			return
		}
		var err error
		total, err = d.Executor.ExecuteCount(ctx, countQuery, params)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}

	limit := int64(size)
	offset := int64(page) * int64(size)
	result, err := d.Executor.Execute(ctx, query, params, &limit, &offset)
	if err != nil {
		writeError(w, r, err)
		return
	}

	totalPages := 0
	if size > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(size)))
	}
	envelope := map[string]interface{}{
		"data":          shapedRows(ep.ResponseShape, result),
		"page":          page,
		"size":          size,
		"totalElements": total,
		"totalPages":    totalPages,
	}

	if ep.CacheEnabled() {
		ttl := time.Duration(ep.Cache.TTLSeconds) * time.Second
		d.Cache.Put(ep.Cache.CacheName, cacheKey, envelope, ttl)
	}
	writeJSON(w, http.StatusOK, envelope)
}

// paginationParams clamps size to [1, maxSize] and page to [0, +inf).
func paginationParams(r *http.Request, spec *model.PaginationSpec) (page, size int) {
	size = spec.DefaultSize
	if size <= 0 {
		size = defaultPageSize
	}
	maxSize := spec.MaxSize
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}

	q := r.URL.Query()
	if v, err := strconv.Atoi(q.Get("size")); err == nil {
		size = v
	}
	if size < 1 {
		size = 1
	}
	if size > maxSize {
		size = maxSize
	}

	if v, err := strconv.Atoi(q.Get("page")); err == nil {
		page = v
	}
	if page < 0 {
		page = 0
	}
	return page, size
}

// buildCacheKey builds the cache key from cache.keyPattern with {var}
// substitution, falling back to "queryName:paramName=value&..." in
// alphabetical parameter order.
func buildCacheKey(ep *model.EndpointDefinition, q *model.QueryDefinition, params queryexec.Params) string {
	if ep.Cache.KeyPattern != "" {
		values := make(map[string]string, len(params))
		for k, v := range params {
			values[k] = fmt.Sprintf("%v", v)
		}
		return cache.SubstituteVars(ep.Cache.KeyPattern, values)
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(q.Name)
	b.WriteByte(':')
	for i, name := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		fmt.Fprintf(&b, "%s=%v", name, params[name])
	}
	return b.String()
}

// shapeResult renders a non-paginated result per ep.ResponseShape: the
// single value when scalar is set and the result is one row of one
// column, a {"data": rows} object when wrap is set, and otherwise the
// bare array of row maps, with the fieldMap applied to the rows. Only
// pagination adds page and total fields around the data.
func shapeResult(ep *model.EndpointDefinition, result *queryexec.Result) interface{} {
	shape := ep.ResponseShape
	if shape != nil && shape.Scalar {
		if len(result.Rows) == 1 && len(result.Columns) == 1 {
			return result.Rows[0][result.Columns[0]]
		}
	}
	rows := shapedRows(shape, result)
	if shape != nil && shape.Wrap {
		return map[string]interface{}{"data": rows}
	}
	return rows
}

// shapedRows applies the endpoint's fieldMap (column name -> response
// field name) to every row; columns absent from the map keep their name.
func shapedRows(shape *model.ResponseShape, result *queryexec.Result) []queryexec.Row {
	rows := result.Rows
	if rows == nil {
		rows = []queryexec.Row{}
	}
	if shape == nil || len(shape.FieldMap) == 0 {
		return rows
	}
	out := make([]queryexec.Row, len(rows))
	for i, row := range rows {
		mapped := make(queryexec.Row, len(row))
		for col, val := range row {
			if renamed, ok := shape.FieldMap[col]; ok {
				mapped[renamed] = val
				continue
			}
			mapped[col] = val
		}
		out[i] = mapped
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps a GatewayError (or any error, defaulting to
// INTERNAL_ERROR) to the standard JSON error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := cordalerr.CodeOf(err)
	var message string
	var ge *cordalerr.GatewayError
	if cordalerr.As(err, &ge) {
		message = ge.Message
	} else {
		message = err.Error()
	}

	writeJSON(w, code.StatusCode(), map[string]interface{}{
		"error":     string(code),
		"message":   message,
		"path":      r.URL.Path,
		"timestamp": time.Now().UnixMilli(),
	})
}
