// Package http is the HTTP surface of the i3X engine. It decodes request
// bodies, delegates to the query facade, and maps typed domain errors to
// status codes. Change streams are served over SSE and websocket.
package http

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cesmii/i3x/errors"
	"github.com/cesmii/i3x/facade"
	"github.com/cesmii/i3x/health"
	"github.com/cesmii/i3x/metric"
	"github.com/cesmii/i3x/pkg/tlsutil"
)

// Config tunes the HTTP server.
type Config struct {
	// Addr is the listen address, host:port.
	Addr string `json:"addr" yaml:"addr"`

	ReadTimeout  time.Duration `json:"readTimeout" yaml:"readTimeout"`
	WriteTimeout time.Duration `json:"writeTimeout" yaml:"writeTimeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`

	// StreamEventsPerSecond paces event writes per stream consumer so a
	// burst cannot saturate a slow connection. Zero disables pacing.
	StreamEventsPerSecond float64 `json:"streamEventsPerSecond" yaml:"streamEventsPerSecond"`

	// StreamBurst is the pacing burst size.
	StreamBurst int `json:"streamBurst" yaml:"streamBurst"`

	// TLS terminates TLS on the listener when enabled.
	TLS tlsutil.ServerConfig `json:"tls" yaml:"tls"`
}

// DefaultConfig returns the default server tuning.
func DefaultConfig() Config {
	return Config{
		Addr:                  ":8080",
		ReadTimeout:           15 * time.Second,
		ShutdownTimeout:       10 * time.Second,
		StreamEventsPerSecond: 500,
		StreamBurst:           100,
	}
}

// Dependencies contains everything the server needs.
type Dependencies struct {
	Facade  *facade.Facade
	Logger  *slog.Logger
	Metrics *metric.MetricsRegistry

	// Health, when set, backs the healthz endpoint with per-component
	// statuses instead of a plain liveness reply.
	Health *health.Monitor

	Config Config
}

// Server is the HTTP gateway.
type Server struct {
	facade   *facade.Facade
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics
	health   *health.Monitor
	config   Config
	mux      *http.ServeMux
	server   *http.Server
}

// NewServer creates the gateway and registers all routes.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Facade == nil {
		return nil, errors.WrapInvalid(nil, "HTTPServer", "NewServer", "facade is required")
	}
	if deps.Logger == nil {
		return nil, errors.WrapInvalid(nil, "HTTPServer", "NewServer", "logger is required")
	}
	cfg := deps.Config
	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	tlsConfig, err := tlsutil.LoadServerTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}

	s := &Server{
		facade:   deps.Facade,
		logger:   deps.Logger.With("component", "gateway"),
		registry: deps.Metrics,
		health:   deps.Health,
		config:   cfg,
		mux:      http.NewServeMux(),
	}
	if deps.Metrics != nil {
		s.metrics = deps.Metrics.CoreMetrics()
	}
	s.routes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		TLSConfig:    tlsConfig,
	}
	return s, nil
}

// Handler exposes the routed mux, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.config.Addr, "tls", s.server.TLSConfig != nil)
		var err error
		if s.server.TLSConfig != nil {
			err = s.server.ListenAndServeTLS("", "")
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return errors.WrapFatal(err, "HTTPServer", "Run", "listen")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return errors.WrapTransient(err, "HTTPServer", "Run", "shutdown")
	}
	return nil
}

func (s *Server) routes() {
	s.handle("GET /namespaces", "namespaces", s.handleNamespaces)
	s.handle("POST /namespaces", "namespaces", s.handleRegisterNamespace)

	s.handle("GET /objecttypes", "objecttypes", s.handleObjectTypes)
	s.handle("POST /objecttypes", "objecttypes", s.handleRegisterObjectType)
	s.handle("POST /objecttypes/query", "objecttypes_query", s.handleObjectTypesQuery)

	s.handle("GET /relationshiptypes", "relationshiptypes", s.handleRelationshipTypes)
	s.handle("POST /relationshiptypes", "relationshiptypes", s.handleRegisterRelationshipType)
	s.handle("POST /relationshiptypes/query", "relationshiptypes_query", s.handleRelationshipTypesQuery)

	s.handle("GET /objects", "objects", s.handleObjects)
	s.handle("POST /objects", "objects", s.handleCreateObject)
	s.handle("POST /objects/list", "objects_list", s.handleObjectsList)
	s.handle("POST /objects/related", "objects_related", s.handleObjectsRelated)
	s.handle("POST /objects/value", "objects_value", s.handleObjectsValue)
	s.handle("POST /objects/history", "objects_history", s.handleObjectsHistory)
	s.handle("PUT /objects/{elementId}", "object_update", s.handleUpdateObject)
	s.handle("DELETE /objects/{elementId}", "object_delete", s.handleDeleteObject)
	s.handle("PUT /objects/{elementId}/value", "object_value_write", s.handleWriteValue)
	s.handle("PUT /objects/{elementId}/history", "object_history_write", s.handleWriteHistory)

	s.handle("GET /subscriptions", "subscriptions", s.handleSubscriptions)
	s.handle("POST /subscriptions", "subscriptions", s.handleCreateSubscription)
	s.handle("GET /subscriptions/{id}", "subscription", s.handleSubscription)
	s.handle("DELETE /subscriptions/{id}", "subscription", s.handleDeleteSubscription)
	s.handle("POST /subscriptions/{id}/register", "subscription_register", s.handleRegisterItems)
	s.handle("POST /subscriptions/{id}/unregister", "subscription_unregister", s.handleUnregisterItems)
	s.handle("POST /subscriptions/{id}/sync", "subscription_sync", s.handleSync)
	s.handle("GET /subscriptions/{id}/stream", "subscription_stream", s.handleStreamSSE)
	s.handle("GET /subscriptions/{id}/stream/ws", "subscription_stream_ws", s.handleStreamWebsocket)

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.registry != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(
			s.registry.PrometheusRegistry(), promhttp.HandlerOpts{}))
	}
}

// handle wraps a handler with request metrics under a stable route label.
func (s *Server) handle(pattern, route string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
			s.metrics.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush passes through so SSE streaming works behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack passes through so the websocket upgrade works behind the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	agg := s.health.AggregateHealth("i3x")
	code := http.StatusOK
	if agg.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, agg)
}
