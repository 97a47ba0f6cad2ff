package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/indicator-etl/internal/cache"
	"github.com/couchcryptid/indicator-etl/internal/domain"
	"github.com/couchcryptid/indicator-etl/internal/observability"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// AllReady is ready when every checker is; the first failure is reported.
type AllReady []ReadinessChecker

func (a AllReady) CheckReadiness(ctx context.Context) error {
	for _, c := range a {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

// IndicatorReader is the read side of the indicator store.
type IndicatorReader interface {
	Municipality() domain.Municipality
	ListDistinctIndicators(ctx context.Context, code string) ([]domain.IndicatorRef, error)
	Query(ctx context.Context, indicatorKey, source string) ([]domain.Observation, error)
}

// ResolverAdmin exposes resolution counters and cache invalidation.
type ResolverAdmin interface {
	Stats() observability.Snapshot
	ClearCache(ctx context.Context, source string) (int64, error)
}

// CacheInspector reports cache occupancy.
type CacheInspector interface {
	Info(ctx context.Context) (cache.Info, error)
}

// Deps groups the collaborators behind the API routes.
type Deps struct {
	Ready      ReadinessChecker
	Indicators IndicatorReader
	Resolver   ResolverAdmin
	Cache      CacheInspector
}

// Server exposes health, readiness, metrics and the query API.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /v1 routes.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		deps:   deps,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(deps.Ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/indicators", s.handleListIndicators)
	mux.HandleFunc("GET /v1/indicators/{key}/series", s.handleSeries)
	mux.HandleFunc("GET /v1/resolver/stats", s.handleStats)
	mux.HandleFunc("DELETE /v1/cache", s.handleClearCache)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

type indicatorList struct {
	Municipality domain.Municipality  `json:"municipality"`
	Indicators   []domain.IndicatorRef `json:"indicators"`
}

func (s *Server) handleListIndicators(w http.ResponseWriter, r *http.Request) {
	m := s.deps.Indicators.Municipality()
	refs, err := s.deps.Indicators.ListDistinctIndicators(r.Context(), m.Code)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if refs == nil {
		refs = []domain.IndicatorRef{}
	}
	writeJSON(w, http.StatusOK, indicatorList{Municipality: m, Indicators: refs})
}

type series struct {
	IndicatorKey string               `json:"indicator_key"`
	Source       string               `json:"source,omitempty"`
	Observations []domain.Observation `json:"observations"`
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	source := r.URL.Query().Get("source")

	obs, err := s.deps.Indicators.Query(r.Context(), key, source)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if len(obs) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no observations for " + key})
		return
	}
	writeJSON(w, http.StatusOK, series{IndicatorKey: key, Source: source, Observations: obs})
}

type resolverStats struct {
	observability.Snapshot
	HitRate float64    `json:"hit_rate"`
	Status  string     `json:"status"`
	Cache   cache.Info `json:"cache"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Cache.Info(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	snap := s.deps.Resolver.Stats()
	writeJSON(w, http.StatusOK, resolverStats{
		Snapshot: snap,
		HitRate:  snap.HitRate(),
		Status:   snap.Status(),
		Cache:    info,
	})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	n, err := s.deps.Resolver.ClearCache(r.Context(), source)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": source, "removed": n})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
