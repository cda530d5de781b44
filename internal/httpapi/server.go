// Package httpapi assembles the gateway's two HTTP surfaces behind one
// handler: the dynamic per-endpoint routes the Request Dispatcher (C8)
// mounts from the live Endpoint Registry (C7), and the fixed management
// surface (health, config introspection, reload trigger, metrics)
// CORDAL exposes alongside them. The whole routing table is rebuilt and
// atomically swapped after each successful reload.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/cordal/gateway/internal/cache"
	"github.com/cordal/gateway/internal/configstate"
	"github.com/cordal/gateway/internal/configvalidate"
	"github.com/cordal/gateway/internal/dbpool"
	"github.com/cordal/gateway/internal/dispatch"
	"github.com/cordal/gateway/internal/eventbus"
	"github.com/cordal/gateway/internal/gatewayconfig"
	"github.com/cordal/gateway/internal/metrics"
	"github.com/cordal/gateway/internal/model"
	"github.com/cordal/gateway/internal/queryexec"
	"github.com/cordal/gateway/internal/reload"
)

// Validator binds configvalidate.Validate to the pool manager's schema
// inspectors and runs it against the configuration a configstate.Manager
// holds, so the GET /api/generic/config/validate endpoint runs the same
// six checks as the reload orchestrator, whose own validator takes a
// *model.ConfigSet instead.
type Validator func(ctx context.Context, cfg *configstate.Manager) *configvalidate.Report

// Deps collects every component the HTTP surface needs; Server only
// wires and mounts them, it constructs none of them.
type Deps struct {
	Config        gatewayconfig.ServerConfig
	Metrics       gatewayconfig.MetricsConfig
	Orchestrator  *reload.Orchestrator
	State         *configstate.Manager
	Pools         *dbpool.Manager
	CacheLayer    *cache.Layer
	Executor      *queryexec.Executor
	Bus           *eventbus.Bus
	Validate      Validator
	EndpointStats *metrics.EndpointStats
	Logger        *slog.Logger
}

// Server owns the process's single http.Server. Its routing table is
// rebuilt and atomically swapped on every Remount call so a reload's
// new endpoint set takes effect without an HTTP restart.
type Server struct {
	http       *http.Server
	active     atomic.Pointer[http.Handler]
	deps       Deps
	logger     *slog.Logger
	dispatcher *dispatch.Dispatcher
}

// New builds a Server bound to deps, mounts the currently live registry,
// and wraps it in an http.Server bound to deps.Config. Call Remount
// after every successful reload to re-mount the (possibly changed) set
// of dynamic endpoints.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.EndpointStats == nil {
		deps.EndpointStats = metrics.NewEndpointStats()
	}

	s := &Server{deps: deps, logger: logger}
	s.dispatcher = dispatch.New(&queryView{state: deps.State}, deps.Executor, deps.CacheLayer, deps.Bus)
	s.Remount()

	addr := deps.Config.Host + ":" + strconv.Itoa(deps.Config.Port)
	s.http = &http.Server{
		Addr:         addr,
		ReadTimeout:  orDefault(deps.Config.ReadTimeout, 30*time.Second),
		WriteTimeout: orDefault(deps.Config.WriteTimeout, 30*time.Second),
		Handler:      http.HandlerFunc(s.serve),
	}
	return s
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	h := s.active.Load()
	(*h).ServeHTTP(w, r)
}

// Remount rebuilds the full routing table — management surface plus the
// orchestrator's currently live dynamic endpoints — and atomically
// installs it. A request already dispatched to the previous table always
// finishes against it; nothing is interrupted mid-flight.
func (s *Server) Remount() {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(s.handleNotFound)
	s.mountManagement(router)

	reg := s.deps.Orchestrator.Registry()
	reg.Mount(router, func(ep *model.EndpointDefinition) http.HandlerFunc {
		handler := s.dispatcher.Handler(ep)
		return instrument(s.deps.EndpointStats, ep.Method, ep.Path, handler)
	})

	var h http.Handler = router
	s.active.Store(&h)
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Run starts serving and blocks until ctx is cancelled, then drains
// in-flight requests for up to GracefulShutdownTimeout before returning.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownTimeout := orDefault(s.deps.Config.GracefulShutdownTimeout, 30*time.Second)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down http server", "timeout", shutdownTimeout)
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
