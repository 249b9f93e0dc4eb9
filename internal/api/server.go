// Package api exposes the dispatcher over HTTP.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/PeterSoManLung/FindDinning/internal/config"
	"github.com/PeterSoManLung/FindDinning/internal/dispatch"
	"github.com/PeterSoManLung/FindDinning/internal/model"
)

const maxBodyBytes = 1 << 20

// Server routes HTTP requests to a Dispatcher.
type Server struct {
	d       *dispatch.Dispatcher
	reg     *prometheus.Registry
	metrics *Metrics
	origins []string
}

// NewServer creates a Server with its own metrics registry.
func NewServer(d *dispatch.Dispatcher, cfg config.ServerConfig) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Server{
		d:       d,
		reg:     reg,
		metrics: NewMetrics(reg),
		origins: cfg.CORSOrigins,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.metrics.Middleware)
	r.Use(middleware.Recoverer)

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{Registry: s.reg}))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/experiments", func(r chi.Router) {
			r.Post("/", s.createExperiment)
			r.Get("/", s.listExperiments)
			r.Post("/assign", s.assignSubject)
			r.Post("/{id}/results", s.recordResult)
			r.Get("/{id}/analysis", s.analyzeExperiment)
			r.Post("/{id}/end", s.endExperiment)
		})
		r.Route("/retraining", func(r chi.Router) {
			r.Post("/check", s.checkRetraining)
			r.Post("/trigger", s.triggerRetraining)
			r.Post("/schedule", s.scheduleRetraining)
			r.Get("/jobs/{name}", s.trainingStatus)
		})
		r.Route("/monitor", func(r chi.Router) {
			r.Post("/run", s.monitorAll)
			r.Post("/models/{model}/run", s.monitorModel)
			r.Get("/models/{model}/drift", s.checkDrift)
			r.Get("/report", s.report)
		})
		r.Route("/models/{model}", func(r chi.Router) {
			r.Get("/versions", s.listVersions)
			r.Post("/deploy", s.deployModel)
			r.Post("/rollback", s.rollbackModel)
			r.Delete("/versions/{version}", s.deleteVersion)
		})
		r.Post("/nlp/analyze", s.analyzeText)
	})

	return r
}

func (s *Server) run(w http.ResponseWriter, r *http.Request, cmd dispatch.Command) {
	resp := s.d.Execute(r.Context(), cmd)
	if resp.Body.Error != nil && resp.Body.Error.RetryAfterSecs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(resp.Body.Error.RetryAfterSecs))
	}
	writeJSON(w, resp.StatusCode, resp.Body)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	resp := dispatch.Failure(err)
	writeJSON(w, resp.StatusCode, resp.Body)
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return model.InvalidInputf("invalid request body: %v", err)
	}
	return nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.InvalidInputf("%s must be an integer", name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

// HTTPServer wraps Handler in an http.Server listening on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}
