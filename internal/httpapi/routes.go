package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cordal/gateway/internal/cordalerr"
	"github.com/cordal/gateway/internal/reload"
)

// mountManagement registers the fixed management surface
// onto router: health, config introspection, reload trigger, and
// metrics — distinct from the dynamic endpoints Remount mounts
// separately from the live registry.
func (s *Server) mountManagement(router *mux.Router) {
	router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	router.HandleFunc("/api/generic/config/validate", s.handleConfigValidate).Methods(http.MethodGet)
	router.HandleFunc("/api/generic/config/databases", s.handleConfigDatabases).Methods(http.MethodGet)
	router.HandleFunc("/api/generic/config/queries", s.handleConfigQueries).Methods(http.MethodGet)
	router.HandleFunc("/api/generic/config/endpoints", s.handleConfigEndpoints).Methods(http.MethodGet)
	router.HandleFunc("/api/generic/config/history", s.handleConfigHistory).Methods(http.MethodGet)

	router.HandleFunc("/api/generic/endpoints", s.handleEndpoints).Methods(http.MethodGet)
	router.HandleFunc("/api/generic/reload", s.handleReload).Methods(http.MethodPost)

	router.HandleFunc("/api/metrics/endpoints", s.handleEndpointMetrics).Methods(http.MethodGet)

	if s.deps.Metrics.Enabled {
		path := s.deps.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, promhttp.Handler()).Methods(http.MethodGet)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := s.deps.Pools.Health(ctx)

	status := "UP"
	for _, v := range checks {
		if v != "up" {
			status = "DEGRADED"
			break
		}
	}

	cacheChecks := make(map[string]int, len(s.deps.CacheLayer.Names()))
	for _, name := range s.deps.CacheLayer.Names() {
		cacheChecks[name] = s.deps.CacheLayer.Stats(name).Size
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       status,
		"timestamp":    time.Now().UnixMilli(),
		"service":      "cordal-gateway",
		"reloadStatus": s.deps.Orchestrator.Status(),
		"databases":    checks,
		"cacheEntries": cacheChecks,
	})
}

func (s *Server) handleConfigValidate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Validate == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "message": "no validator configured"})
		return
	}
	report := s.deps.Validate(r.Context(), s.deps.State)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleConfigDatabases(w http.ResponseWriter, r *http.Request) {
	live := s.deps.State.Live()
	if live == nil || live.Config == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, live.Config.Databases)
}

func (s *Server) handleConfigQueries(w http.ResponseWriter, r *http.Request) {
	live := s.deps.State.Live()
	if live == nil || live.Config == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, live.Config.Queries)
}

func (s *Server) handleConfigEndpoints(w http.ResponseWriter, r *http.Request) {
	live := s.deps.State.Live()
	if live == nil || live.Config == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, live.Config.Endpoints)
}

func (s *Server) handleConfigHistory(w http.ResponseWriter, r *http.Request) {
	history := s.deps.State.History()
	out := make([]map[string]interface{}, 0, len(history))
	for _, snap := range history {
		out = append(out, map[string]interface{}{
			"version":   snap.Version,
			"timestamp": snap.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	compiled := s.deps.Orchestrator.Registry().Endpoints()
	out := make([]map[string]interface{}, 0, len(compiled))
	for _, c := range compiled {
		out = append(out, map[string]interface{}{
			"name":   c.Endpoint.Name,
			"method": c.Endpoint.Method,
			"path":   c.Endpoint.Path,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dryRun"))

	result, err := s.deps.Orchestrator.Reload(r.Context(), reload.TriggerManual, dryRun)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"success": false,
			"message": err.Error(),
		})
		return
	}
	if !dryRun && result.Success {
		s.Remount()
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEndpointMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.EndpointStats.Snapshot())
}

// handleNotFound renders the standard error envelope for requests no
// route matched, instead of the router's plain-text default.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":     string(cordalerr.CodeNotFound),
		"message":   "no endpoint matches " + r.Method + " " + r.URL.Path,
		"path":      r.URL.Path,
		"timestamp": time.Now().UnixMilli(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
