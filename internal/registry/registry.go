// Package registry implements the Endpoint Registry (C7): an immutable
// table of compiled endpoints indexed by (method, path-template), with a
// total order over templates so more specific paths are tried before
// wildcard ones. The route tree is built at runtime from
// model.EndpointDefinition values rather than hand-coded handlers.
package registry

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"

	"github.com/cordal/gateway/internal/model"
)

// Compiled is one registered endpoint plus its pre-compiled specificity
// key, used both for registration order and for introspection endpoints
// (GET /api/generic/endpoints).
type Compiled struct {
	Endpoint        *model.EndpointDefinition
	literalSegments int
	order           int
}

// Registry is the immutable, atomically-swappable active endpoint set.
// A Reload Orchestrator (C11) builds a new Registry and swaps it in;
// existing Registry values are never mutated after New returns.
type Registry struct {
	compiled []Compiled
}

// New compiles endpoints into a Registry, sorted by specificity: more
// literal path segments first, ties broken by declaration order (the
// order endpoints appear in the slice).
func New(endpoints []*model.EndpointDefinition) *Registry {
	compiled := make([]Compiled, len(endpoints))
	for i, ep := range endpoints {
		compiled[i] = Compiled{
			Endpoint:        ep,
			literalSegments: literalSegmentCount(ep.Path),
			order:           i,
		}
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		if compiled[i].literalSegments != compiled[j].literalSegments {
			return compiled[i].literalSegments > compiled[j].literalSegments
		}
		return compiled[i].order < compiled[j].order
	})
	return &Registry{compiled: compiled}
}

// literalSegmentCount counts path segments that are not `{var}`
// placeholders, used as the specificity key: "/api/stock-trades/date-range"
// (3 literal segments) outranks "/api/stock-trades/{id}" (2 literal
// segments).
func literalSegmentCount(path string) int {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	count := 0
	for _, seg := range segments {
		if !isVariableSegment(seg) {
			count++
		}
	}
	return count
}

func isVariableSegment(seg string) bool {
	return strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")
}

// Endpoints returns the registry's compiled endpoints in match-priority
// order (most specific first).
func (r *Registry) Endpoints() []Compiled {
	return r.compiled
}

// Mount registers every compiled endpoint onto router in match-priority
// order. gorilla/mux matches routes in registration order, so mounting
// in specificity order is what gives the registry its deterministic
// first-match-wins semantics — no custom matcher is needed.
func (r *Registry) Mount(router *mux.Router, handler func(ep *model.EndpointDefinition) http.HandlerFunc) {
	for _, c := range r.compiled {
		ep := c.Endpoint
		router.HandleFunc(ep.Path, handler(ep)).Methods(ep.Method)
	}
}

// Lookup returns the endpoint registered for name, used by validators
// and introspection handlers that work off name rather than path.
func (r *Registry) Lookup(name string) (*model.EndpointDefinition, bool) {
	for _, c := range r.compiled {
		if c.Endpoint.Name == name {
			return c.Endpoint, true
		}
	}
	return nil, false
}
