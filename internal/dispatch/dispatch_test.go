package dispatch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordal/gateway/internal/cache"
	"github.com/cordal/gateway/internal/dbpool"
	"github.com/cordal/gateway/internal/eventbus"
	"github.com/cordal/gateway/internal/model"
	"github.com/cordal/gateway/internal/queryexec"
)

type fakeQueries struct {
	byName map[string]*model.QueryDefinition
}

func (f *fakeQueries) Query(name string) (*model.QueryDefinition, bool) {
	q, ok := f.byName[name]
	return q, ok
}

func newTestEnv(t *testing.T) (*Dispatcher, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	pool := dbpool.NewTestPool("trades-db", sqlxDB)
	manager := dbpool.NewManagerForTest(map[string]dbpool.Pool{"trades-db": pool}, map[string]*model.DatabaseDefinition{
		"trades-db": {Name: "trades-db", Driver: "postgres", MaxPoolSize: 5},
	})
	executor := queryexec.New(manager)

	queries := &fakeQueries{byName: map[string]*model.QueryDefinition{
		"byID": {
			Name: "byID", DatabaseName: "trades-db",
			SQL: "SELECT id, symbol FROM trades WHERE id = ?",
			Parameters: []model.QueryParameter{
				{Name: "id", ScalarType: model.ScalarLong, Source: model.SourcePath, Required: true},
			},
		},
		"allTrades": {
			Name: "allTrades", DatabaseName: "trades-db",
			SQL: "SELECT id, symbol FROM trades",
		},
		"countTrades": {
			Name: "countTrades", DatabaseName: "trades-db",
			SQL: "SELECT COUNT(*) FROM trades",
		},
	}}

	cacheLayer := cache.NewLayer(0)
	t.Cleanup(cacheLayer.Shutdown)
	cacheLayer.Configure("trades-cache", 100, time.Minute)

	bus := eventbus.New(2, 8, nil)
	t.Cleanup(bus.Shutdown)

	return New(queries, executor, cacheLayer, bus), mock
}

func TestDispatcherUnpaginatedReturnsBareArray(t *testing.T) {
	d, mock := newTestEnv(t)
	ep := &model.EndpointDefinition{Name: "byID", Path: "/api/stock-trades/{id}", Method: "GET", QueryName: "byID"}

	mock.ExpectQuery(`SELECT id, symbol FROM trades WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "symbol"}).AddRow(int64(42), "AAPL"))

	router := mux.NewRouter()
	router.HandleFunc(ep.Path, d.Handler(ep)).Methods(ep.Method)

	req := httptest.NewRequest(http.MethodGet, "/api/stock-trades/42", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "AAPL", body[0]["symbol"])
}

func TestDispatcherMissingPathParamIsNotFoundByRouter(t *testing.T) {
	d, _ := newTestEnv(t)
	ep := &model.EndpointDefinition{Name: "byID", Path: "/api/stock-trades/{id}", Method: "GET", QueryName: "byID"}

	router := mux.NewRouter()
	router.HandleFunc(ep.Path, d.Handler(ep)).Methods(ep.Method)

	req := httptest.NewRequest(http.MethodGet, "/api/other-path", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDispatcherUnknownQueryReturnsConfigInvalid(t *testing.T) {
	d, _ := newTestEnv(t)
	ep := &model.EndpointDefinition{Name: "ghost", Path: "/api/ghost", Method: "GET", QueryName: "doesNotExist"}

	router := mux.NewRouter()
	router.HandleFunc(ep.Path, d.Handler(ep)).Methods(ep.Method)

	req := httptest.NewRequest(http.MethodGet, "/api/ghost", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "CONFIG_INVALID", body["error"])
}

// paginated endpoint with size=2, page=1 over a count
// of 5 returns data.length <= 2, page=1, size=2, totalElements=5,
// totalPages=3.
func TestDispatcherPaginationReturnsPageAndTotals(t *testing.T) {
	d, mock := newTestEnv(t)
	ep := &model.EndpointDefinition{
		Name: "allTrades", Path: "/api/stock-trades", Method: "GET",
		QueryName: "allTrades", CountQueryName: "countTrades",
		Pagination: &model.PaginationSpec{Enabled: true, DefaultSize: 20, MaxSize: 100},
	}

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM trades`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5)))
	mock.ExpectQuery(`SELECT id, symbol FROM trades LIMIT \$1 OFFSET \$2`).
		WithArgs(int64(2), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "symbol"}).
			AddRow(int64(3), "AAPL").AddRow(int64(4), "MSFT"))

	router := mux.NewRouter()
	router.HandleFunc(ep.Path, d.Handler(ep)).Methods(ep.Method)

	req := httptest.NewRequest(http.MethodGet, "/api/stock-trades?page=1&size=2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	data := body["data"].([]interface{})
	assert.LessOrEqual(t, len(data), 2)
	assert.EqualValues(t, 1, body["page"])
	assert.EqualValues(t, 2, body["size"])
	assert.EqualValues(t, 5, body["totalElements"])
	assert.EqualValues(t, 3, body["totalPages"])
}

func TestDispatcherPaginationClampsSize(t *testing.T) {
	d, mock := newTestEnv(t)
	ep := &model.EndpointDefinition{
		Name: "allTrades", Path: "/api/stock-trades", Method: "GET",
		QueryName: "allTrades", CountQueryName: "countTrades",
		Pagination: &model.PaginationSpec{Enabled: true, DefaultSize: 20, MaxSize: 50},
	}

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM trades`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectQuery(`SELECT id, symbol FROM trades LIMIT \$1 OFFSET \$2`).
		WithArgs(int64(50), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "symbol"}))

	router := mux.NewRouter()
	router.HandleFunc(ep.Path, d.Handler(ep)).Methods(ep.Method)

	req := httptest.NewRequest(http.MethodGet, "/api/stock-trades?size=500", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 50, body["size"])
}

func TestDispatcherRateLimitRejectsOverCap(t *testing.T) {
	d, mock := newTestEnv(t)
	ep := &model.EndpointDefinition{
		Name: "allTrades", Path: "/api/limited-trades", Method: "GET", QueryName: "allTrades",
		RateLimit: &model.RateLimitSpec{Enabled: true, Requests: 2, WindowSeconds: 60},
	}

	for i := 0; i < 2; i++ {
		mock.ExpectQuery(`SELECT id, symbol FROM trades`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "symbol"}).AddRow(int64(1), "AAPL"))
	}

	router := mux.NewRouter()
	router.HandleFunc(ep.Path, d.Handler(ep)).Methods(ep.Method)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/limited-trades", nil))
		require.Equal(t, http.StatusOK, rec.Code, "request %d is within the cap", i+1)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/limited-trades", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMITED", body["error"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiterWindowRollsOver(t *testing.T) {
	rl := newRateLimiter()
	spec := &model.RateLimitSpec{Enabled: true, Requests: 1, WindowSeconds: 60}
	start := time.Now()

	assert.True(t, rl.allow("ep", spec, start))
	assert.False(t, rl.allow("ep", spec, start.Add(time.Second)))
	assert.True(t, rl.allow("ep", spec, start.Add(61*time.Second)), "a new window admits requests again")
}

func TestDispatcherAppliesFieldMap(t *testing.T) {
	d, mock := newTestEnv(t)
	ep := &model.EndpointDefinition{
		Name: "allTrades", Path: "/api/renamed-trades", Method: "GET", QueryName: "allTrades",
		ResponseShape: &model.ResponseShape{FieldMap: map[string]string{"symbol": "ticker"}},
	}

	mock.ExpectQuery(`SELECT id, symbol FROM trades`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "symbol"}).AddRow(int64(1), "AAPL"))

	router := mux.NewRouter()
	router.HandleFunc(ep.Path, d.Handler(ep)).Methods(ep.Method)

	req := httptest.NewRequest(http.MethodGet, "/api/renamed-trades", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "AAPL", body[0]["ticker"])
	assert.NotContains(t, body[0], "symbol")
}

func TestDispatcherCachesUnpaginatedResult(t *testing.T) {
	d, mock := newTestEnv(t)
	ep := &model.EndpointDefinition{
		Name: "allTrades", Path: "/api/all-trades", Method: "GET", QueryName: "allTrades",
		Cache: &model.CacheSpec{Enabled: true, CacheName: "trades-cache", TTLSeconds: 60},
	}

	mock.ExpectQuery(`SELECT id, symbol FROM trades`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "symbol"}).AddRow(int64(1), "AAPL"))

	router := mux.NewRouter()
	router.HandleFunc(ep.Path, d.Handler(ep)).Methods(ep.Method)

	req1 := httptest.NewRequest(http.MethodGet, "/api/all-trades", nil)
	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code)

	// Second request must hit the cache, not issue a second query (the
	// mock has only one expectation queued).
	req2 := httptest.NewRequest(http.MethodGet, "/api/all-trades", nil)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, rec1.Body.String(), rec2.Body.String())

	require.NoError(t, mock.ExpectationsWereMet())
}
