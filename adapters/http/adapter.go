// Package http serves the billing API over HTTP, backed by any billing
// implementation. The sandbox server uses it to stand in for the hosted
// billing service so the CLI can be exercised end to end.
package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	v1 "flexplan/api/v1"
	"flexplan/core/clients"
	"flexplan/core/types"
	"flexplan/internal/metrics"
)

// Backend resolves the billing service of an account
type Backend interface {
	ForAccount(account string) clients.BillingService
	Ping(ctx context.Context) error
}

// Config holds HTTP adapter configuration
type Config struct {
	// Address to listen on
	Address string `json:"address"`

	// ReadTimeout for requests
	ReadTimeout time.Duration `json:"read_timeout"`

	// WriteTimeout for responses
	WriteTimeout time.Duration `json:"write_timeout"`

	// MaxBodySize limits request body size
	MaxBodySize int64 `json:"max_body_size"`

	// EnableCORS enables CORS headers
	EnableCORS bool `json:"enable_cors"`

	// AllowedOrigins for CORS
	AllowedOrigins []string `json:"allowed_origins"`

	// EnableMetrics serves Prometheus metrics on /metrics
	EnableMetrics bool `json:"enable_metrics"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Address:        ":8480",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		MaxBodySize:    1 << 20,
		EnableCORS:     true,
		AllowedOrigins: []string{"*"},
		EnableMetrics:  true,
	}
}

// Adapter is the HTTP adapter
type Adapter struct {
	backend  Backend
	config   *Config
	logger   *zap.Logger
	metrics  *metrics.Provisioning
	gatherer prometheus.Gatherer

	mu     sync.Mutex
	server *http.Server
}

// Option configures an Adapter
type Option func(*Adapter)

// WithLogger sets the request logger
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics records requests on m and serves g on /metrics
func WithMetrics(m *metrics.Provisioning, g prometheus.Gatherer) Option {
	return func(a *Adapter) {
		a.metrics = m
		a.gatherer = g
	}
}

// New creates a new HTTP adapter
func New(backend Backend, config *Config, opts ...Option) *Adapter {
	if config == nil {
		config = DefaultConfig()
	}
	a := &Adapter{
		backend:  backend,
		config:   config,
		logger:   zap.NewNop(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Router returns the HTTP handler
func (a *Adapter) Router() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET "+v1.RouteHealth, a.handleHealth)
	mux.HandleFunc("GET /ready", a.handleReady)

	// Billing API
	mux.HandleFunc("GET "+v1.RouteOffers, a.handleOffers)
	mux.HandleFunc("GET "+v1.RouteAPIKeys, a.handleListAPIKeys)
	mux.HandleFunc("POST "+v1.RouteAPIKeys, a.handleCreateAPIKey)
	mux.HandleFunc("GET "+v1.RouteHostingPlans, a.handleListPlans)
	mux.HandleFunc("POST "+v1.RouteHostingPlans, a.handleCreatePlan)
	mux.HandleFunc("PUT "+v1.RouteHostingPlan, a.handleUpdatePlan)

	if a.config.EnableMetrics && a.gatherer != nil {
		mux.Handle("GET "+v1.RouteMetrics, promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}

	// Apply middleware
	handler := a.corsMiddleware(mux)
	handler = a.loggingMiddleware(handler)
	handler = a.recoveryMiddleware(handler)

	return handler
}

// Start starts the HTTP server
func (a *Adapter) Start() error {
	srv := &http.Server{
		Addr:         a.config.Address,
		Handler:      a.Router(),
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
	}
	a.mu.Lock()
	a.server = srv
	a.mu.Unlock()

	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (a *Adapter) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	srv := a.server
	a.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// Handler implementations

func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (a *Adapter) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.backend.Ping(r.Context()); err != nil {
		a.writeError(w, http.StatusServiceUnavailable, "store unavailable: "+err.Error())
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *Adapter) handleOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := a.backend.ForAccount("").ListIndexerOffers(r.Context(), r.PathValue("project"), r.PathValue("deployment"))
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := v1.OffersResponse{Indexers: make([]v1.IndexerOffer, 0, len(offers))}
	for _, o := range offers {
		resp.Indexers = append(resp.Indexers, v1.FromOffer(o))
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *Adapter) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	billing, ok := a.account(w, r)
	if !ok {
		return
	}
	res, err := billing.ListAPIKeys(r.Context())
	writeResult(a, w, http.StatusOK, res, err, func(keys []types.APIKey) []v1.APIKey {
		out := make([]v1.APIKey, len(keys))
		for i, k := range keys {
			out[i] = v1.FromAPIKey(k)
		}
		return out
	})
}

func (a *Adapter) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	billing, ok := a.account(w, r)
	if !ok {
		return
	}
	var req v1.CreateAPIKeyRequest
	if err := a.parseJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := billing.CreateAPIKey(r.Context(), req.Name)
	writeResult(a, w, http.StatusCreated, res, err, v1.FromAPIKey)
}

func (a *Adapter) handleListPlans(w http.ResponseWriter, r *http.Request) {
	billing, ok := a.account(w, r)
	if !ok {
		return
	}
	res, err := billing.ListHostingPlans(r.Context())
	writeResult(a, w, http.StatusOK, res, err, func(plans []types.HostingPlan) []v1.HostingPlan {
		out := make([]v1.HostingPlan, len(plans))
		for i, p := range plans {
			out[i] = v1.FromHostingPlan(p)
		}
		return out
	})
}

func (a *Adapter) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	billing, ok := a.account(w, r)
	if !ok {
		return
	}
	var req v1.HostingPlanRequest
	if err := a.parseJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := billing.CreateHostingPlan(r.Context(), req.Params())
	writeResult(a, w, http.StatusCreated, res, err, v1.FromHostingPlan)
}

func (a *Adapter) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	billing, ok := a.account(w, r)
	if !ok {
		return
	}
	var req v1.HostingPlanRequest
	if err := a.parseJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	params := req.Params()
	params.ID = id
	res, err := billing.UpdateHostingPlan(r.Context(), id, params)
	writeResult(a, w, http.StatusOK, res, err, v1.FromHostingPlan)
}

// account resolves the caller from the account header
func (a *Adapter) account(w http.ResponseWriter, r *http.Request) (clients.BillingService, bool) {
	account := strings.TrimSpace(r.Header.Get(v1.HeaderAccount))
	if account == "" {
		a.writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return a.backend.ForAccount(account), true
}

// writeResult writes a service result: the value on success, the service
// error payload on failure, and a 500 when no answer was obtained.
func writeResult[T, W any](a *Adapter, w http.ResponseWriter, status int, res types.Result[T], err error, wire func(T) W) {
	if err != nil {
		a.logger.Error("billing backend failed", zap.Error(err))
		a.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	v, err := res.Unwrap()
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.writeJSON(w, status, wire(v))
}

// Middleware

func (a *Adapter) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.config.EnableCORS {
			origin := "*"
			if len(a.config.AllowedOrigins) > 0 && a.config.AllowedOrigins[0] != "*" {
				origin = a.config.AllowedOrigins[0]
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Account")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *Adapter) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := routeOf(r)
		a.metrics.RecordBillingRequest(r.Method, route, rec.status)
		a.logger.Debug("request served",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.String("request_id", r.Header.Get(v1.HeaderRequestID)),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// routeOf returns the matched pattern without its method, so metrics are
// labelled by route rather than by raw path.
func routeOf(r *http.Request) string {
	pattern := r.Pattern
	if pattern == "" {
		return "unmatched"
	}
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		pattern = pattern[i+1:]
	}
	return pattern
}

func (a *Adapter) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				a.logger.Error("handler panicked", zap.Any("panic", err), zap.String("path", r.URL.Path))
				a.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Helpers

func (a *Adapter) parseJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, a.config.MaxBodySize))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func (a *Adapter) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (a *Adapter) writeError(w http.ResponseWriter, status int, message string) {
	a.writeJSON(w, status, v1.ErrorResponse{Error: message})
}
