// Package server exposes the read-only reports API: trend summaries per
// source, the source list, and the latest run report. It is the data feed
// the dashboard reads; chart rendering lives elsewhere.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/greenpulse/greenpulse/internal/analysis"
	"github.com/greenpulse/greenpulse/internal/metrics"
	"github.com/greenpulse/greenpulse/internal/models"
)

// TableLoader reads a source's processed observation table.
type TableLoader interface {
	LoadTable(source string) (models.ObservationTable, error)
}

type Server struct {
	logger  *logrus.Logger
	loader  TableLoader
	sources []string
	opts    analysis.Options
	cache   *lru.Cache
	metrics *metrics.Metrics

	mu         sync.RWMutex
	lastReport *models.RunReport
}

// New builds the reports server with an LRU cache of computed summaries.
func New(
	logger *logrus.Logger,
	loader TableLoader,
	sourceNames []string,
	opts analysis.Options,
	cacheSize int,
	m *metrics.Metrics,
) (*Server, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Server{
		logger:  logger,
		loader:  loader,
		sources: sourceNames,
		opts:    opts,
		cache:   cache,
		metrics: m,
	}, nil
}

// SetLastReport records the most recent run report for /api/runs/latest.
// It also drops cached summaries, since the underlying tables changed.
func (s *Server) SetLastReport(report *models.RunReport) {
	s.mu.Lock()
	s.lastReport = report
	s.mu.Unlock()
	s.cache.Purge()
}

// Router assembles the chi routes and middleware.
func (s *Server) Router(registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.observe)

	r.Get("/health", s.handleHealth)
	r.Get("/api/sources", s.handleSources)
	r.Get("/api/reports/{source}", s.handleReport)
	r.Get("/api/runs/latest", s.handleLatestRun)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sourceStatus struct {
	Name      string   `json:"name"`
	Entities  []string `json:"entities,omitempty"`
	HasData   bool     `json:"has_data"`
	RowCount  int      `json:"row_count"`
	LoadError string   `json:"load_error,omitempty"`
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	out := make([]sourceStatus, 0, len(s.sources))
	for _, name := range s.sources {
		status := sourceStatus{Name: name}
		table, err := s.loader.LoadTable(name)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Not fetched yet.
		case err != nil:
			status.LoadError = err.Error()
		default:
			status.HasData = true
			status.RowCount = len(table)
			status.Entities = table.Entities()
		}
		out = append(out, status)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	entity := r.URL.Query().Get("entity")

	key := source + "|" + entity
	if cached, ok := s.cache.Get(key); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	table, err := s.loader.LoadTable(source)
	if errors.Is(err, os.ErrNotExist) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("no data for source %q", source)})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	if entity == "" {
		entities := table.Entities()
		if len(entities) == 1 {
			entity = entities[0]
		} else {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error: fmt.Sprintf("source %q has %d entities, pass ?entity=", source, len(entities)),
			})
			return
		}
	}

	subset := table.ForEntity(entity)
	summary, err := analysis.Analyze(subset, s.opts)
	if errors.Is(err, analysis.ErrInsufficientData) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "not enough history to analyze"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}

	s.cache.Add(key, summary)
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	report := s.lastReport
	s.mu.RUnlock()

	if report == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no run has completed yet"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// observe logs each request and records the Prometheus counters.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}

		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
			s.metrics.HTTPLatency.WithLabelValues(route).Observe(duration.Seconds())
		}

		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"route":    route,
			"status":   ww.Status(),
			"duration": duration.String(),
		}).Info("Request handled")
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
