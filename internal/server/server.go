// Package server exposes the inference service over HTTP.
//
// The model being served is held behind an atomic pointer. A reload builds a
// fresh service from the artifact store and swaps it in; requests already in
// flight finish against the service they started with.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"titanic-predictor/internal/features"
	"titanic-predictor/internal/inference"
	"titanic-predictor/internal/metrics"
	"titanic-predictor/internal/ml"
	"titanic-predictor/internal/storage"
)

// Config holds the HTTP settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// CacheSize is the number of prediction results kept per loaded model.
	// Zero disables the cache.
	CacheSize int
	// RateLimit is the sustained /predict rate in requests per second. Zero
	// disables limiting.
	RateLimit   float64
	RateBurst   int
	CORSOrigins []string
	// DriftWindow is the number of recent inputs compared with the training
	// distribution. Zero disables drift monitoring.
	DriftWindow    int
	DriftThreshold float64
}

// model pairs a service with the state built from its traffic, so a reload
// retires all of it at once.
type model struct {
	svc   *inference.Service
	cache *lru.Cache[features.Record, *inference.Result]
	drift *ml.DriftMonitor
}

// Server serves predictions for the bundle in a store.
type Server struct {
	cfg     Config
	store   *storage.Store
	metrics *metrics.Metrics
	limiter *rate.Limiter
	router  *mux.Router
	handler http.Handler
	http    *http.Server

	current atomic.Pointer[model]
}

// New builds a server and attempts an initial load from store. A failed load
// is logged and leaves the server running without a model.
func New(cfg Config, store *storage.Store, m *metrics.Metrics) *Server {
	s := &Server{cfg: cfg, store: store, metrics: m}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	s.install(nil)
	if err := s.Reload(); err != nil {
		log.Warn().Err(err).Str("path", store.Path()).Msg("Starting without a model")
	}

	s.router = s.routes()
	s.handler = s.middleware(s.router)
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/predict", s.limit(http.HandlerFunc(s.handlePredict))).Methods(http.MethodPost).Name("predict")
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet).Name("health")
	r.HandleFunc("/model/info", s.handleModelInfo).Methods(http.MethodGet).Name("model_info")
	r.HandleFunc("/admin/reload", s.handleReload).Methods(http.MethodPost).Name("reload")
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Gatherer(), promhttp.HandlerOpts{})).Methods(http.MethodGet).Name("metrics")
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)
	return r
}

// middleware wraps the router. The outermost layer runs first.
func (s *Server) middleware(next http.Handler) http.Handler {
	h := s.recoverJSON(next)
	h = s.observe(h)
	h = s.requestID(h)
	if len(s.cfg.CORSOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(s.cfg.CORSOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", requestIDHeader}),
			handlers.ExposedHeaders([]string{requestIDHeader}),
		)(h)
	}
	return handlers.ProxyHeaders(h)
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Service returns the service currently answering predictions.
func (s *Server) Service() *inference.Service { return s.current.Load().svc }

// Reload loads the bundle from the store and swaps it in. On failure the
// previous model keeps serving and the error is returned.
func (s *Server) Reload() error {
	bundle, err := s.store.Load()
	if err != nil {
		s.metrics.ObserveReload(false)
		log.Error().Err(err).Msg("Model reload failed, keeping current model")
		return err
	}
	s.install(bundle)
	s.metrics.ObserveReload(true)
	s.metrics.SetModel(true, bundle.Manifest.TrainedAt)
	log.Info().
		Time("trained_at", bundle.Manifest.TrainedAt).
		Float64("test_accuracy", bundle.Manifest.TestAccuracy).
		Int("trees", len(bundle.Forest.Trees)).
		Msg("Model loaded")
	return nil
}

func (s *Server) install(bundle *storage.Bundle) {
	m := &model{svc: inference.NewService(bundle)}
	if bundle == nil {
		s.metrics.SetModel(false, time.Time{})
		s.current.Store(m)
		return
	}
	if s.cfg.CacheSize > 0 {
		cache, err := lru.New[features.Record, *inference.Result](s.cfg.CacheSize)
		if err != nil {
			log.Warn().Err(err).Msg("Prediction cache disabled")
		} else {
			m.cache = cache
		}
	}
	if s.cfg.DriftWindow > 0 {
		drift, err := ml.NewDriftMonitor(bundle.Features, bundle.Scaler, ml.DriftConfig{
			Window:    s.cfg.DriftWindow,
			Threshold: s.cfg.DriftThreshold,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Drift monitoring disabled")
		} else {
			m.drift = drift
		}
	}
	s.metrics.SetDrift(nil)
	s.current.Store(m)
}

// Start begins serving HTTP requests and blocks until the server stops.
// It returns nil after a graceful Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.http.Addr).Bool("model_loaded", s.Service().Available()).Msg("Starting prediction server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
