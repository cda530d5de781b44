package registry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordal/gateway/internal/model"
)

func ep(name, path, method string) *model.EndpointDefinition {
	return &model.EndpointDefinition{Name: name, Path: path, Method: method, QueryName: name + "Query"}
}

func TestNewOrdersBySpecificity(t *testing.T) {
	endpoints := []*model.EndpointDefinition{
		ep("byID", "/api/stock-trades/{id}", http.MethodGet),
		ep("dateRange", "/api/stock-trades/date-range", http.MethodGet),
	}
	reg := New(endpoints)
	compiled := reg.Endpoints()
	require.Len(t, compiled, 2)
	assert.Equal(t, "dateRange", compiled[0].Endpoint.Name, "literal-segment path must outrank a variable one")
	assert.Equal(t, "byID", compiled[1].Endpoint.Name)
}

func TestNewTieBreaksByDeclarationOrder(t *testing.T) {
	endpoints := []*model.EndpointDefinition{
		ep("first", "/api/alpha/{id}", http.MethodGet),
		ep("second", "/api/beta/{id}", http.MethodGet),
	}
	reg := New(endpoints)
	compiled := reg.Endpoints()
	require.Len(t, compiled, 2)
	assert.Equal(t, "first", compiled[0].Endpoint.Name)
	assert.Equal(t, "second", compiled[1].Endpoint.Name)
}

func TestMountFirstMatchWins(t *testing.T) {
	endpoints := []*model.EndpointDefinition{
		ep("byID", "/api/stock-trades/{id}", http.MethodGet),
		ep("dateRange", "/api/stock-trades/date-range", http.MethodGet),
	}
	reg := New(endpoints)
	router := mux.NewRouter()
	reg.Mount(router, func(e *model.EndpointDefinition) http.HandlerFunc {
		name := e.Name
		return func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(name))
		}
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stock-trades/date-range", nil)
	router.ServeHTTP(rec, req)
	assert.Equal(t, "dateRange", rec.Body.String())

	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/api/stock-trades/42", nil)
	router.ServeHTTP(rec2, req2)
	assert.Equal(t, "byID", rec2.Body.String())
}

func TestLookup(t *testing.T) {
	reg := New([]*model.EndpointDefinition{ep("byID", "/api/x/{id}", http.MethodGet)})
	found, ok := reg.Lookup("byID")
	require.True(t, ok)
	assert.Equal(t, "/api/x/{id}", found.Path)

	_, ok = reg.Lookup("missing")
	assert.False(t, ok)
}

func TestLiteralSegmentCount(t *testing.T) {
	assert.Equal(t, 3, literalSegmentCount("/api/stock-trades/date-range"))
	assert.Equal(t, 2, literalSegmentCount("/api/stock-trades/{id}"))
	assert.Equal(t, 0, literalSegmentCount("/{a}/{b}"))
}
