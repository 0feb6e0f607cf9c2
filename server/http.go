// Package server binds the edge router to an HTTP listener.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/netutil"

	"github.com/wolfeidau/static-router/config"
	"github.com/wolfeidau/static-router/edge"
	"github.com/wolfeidau/static-router/telemetry"
)

// InternalPrefix is the path prefix reserved for the router's own endpoints.
// Every other path, including /health and /metrics, is served from the origins.
const InternalPrefix = "/_edge"

// RequestIDHeader carries the request ID. Inbound values are reused, otherwise one is generated.
const RequestIDHeader = "X-Request-ID"

// ErrMissingRouter is returned by New when no edge router or edge config is provided.
var ErrMissingRouter = errors.New("server requires an edge router and edge config")

// responseHopHeaders are not relayed from origin responses.
var responseHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// Edge is the routing configuration passed to every invocation.
	Edge *config.Config

	// Router runs the edge pipeline.
	Router *edge.Router

	// MaxConns limits concurrent connections. Zero means unlimited.
	MaxConns int

	// TrustProxyHeaders takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxyHeaders bool

	// MetricsToken, when set, is required as a bearer token on /metrics.
	MetricsToken string

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP server for the edge router.
type Server struct {
	config     Config
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Router == nil || cfg.Edge == nil {
		return nil, ErrMissingRouter
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}

	s := &Server{
		config: cfg,
		logger: cfg.Logger,
	}

	s.handler = otelhttp.NewHandler(s.routes(), "static-router")

	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // Long timeout for large crate downloads
		IdleTimeout:       60 * time.Second,
	}

	return s, nil
}

// routes sets up the HTTP routes. Only GET on the endpoints under
// InternalPrefix is answered locally; anything else, including other methods
// on those paths, goes to the edge pipeline.
func (s *Server) routes() http.Handler {
	chi.RegisterMethod(edge.MethodPurge)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.config.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(s.requestMiddleware)

	r.Get(InternalPrefix+"/health", s.handleHealth)
	r.With(s.metricsAuth).Get(InternalPrefix+"/metrics", telemetry.PrometheusHandler().ServeHTTP)

	r.Handle("/*", http.HandlerFunc(s.handleEdge))
	r.MethodNotAllowed(s.handleEdge)

	return r
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleEdge runs the edge pipeline and relays its response.
func (s *Server) handleEdge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := s.config.Router.Handle(ctx, s.config.Edge, r)
	if err != nil {
		s.logger.ErrorContext(ctx, "edge invocation failed",
			"request_id", requestID(ctx),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	for k, vv := range resp.Header {
		header[k] = append([]string(nil), vv...)
	}
	for _, h := range responseHopHeaders {
		header.Del(h)
	}
	if resp.ContentLength >= 0 && header.Get("Content-Length") == "" {
		header.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}

	w.WriteHeader(resp.StatusCode)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.WarnContext(ctx, "failed to relay response body",
			"request_id", requestID(ctx),
			"path", r.URL.Path,
			"error", err,
		)
	}
}

// requestMiddleware tags requests, logs them at debug level and records HTTP metrics.
func (s *Server) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		// Inject request tags so the pipeline can set the route and origin.
		r = telemetry.InjectTags(r)
		telemetry.SetRequestID(r.Context(), id)
		tags := telemetry.GetTags(r)

		// Wrap response writer to capture status and bytes
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		attrs := []any{
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		}
		if tags.Route != "" {
			attrs = append(attrs, "route", string(tags.Route))
		}
		if tags.Origin != "" {
			attrs = append(attrs, "origin", tags.Origin)
		}

		s.logger.DebugContext(r.Context(), "http request", attrs...)

		telemetry.RecordHTTP(r.Context(), r, wrapped.status, wrapped.bytesWritten, duration)
	})
}

func requestID(ctx context.Context) string {
	if tags := telemetry.TagsFromContext(ctx); tags != nil {
		return tags.RequestID
	}
	return ""
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Address, err)
	}
	if s.config.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConns)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("starting server",
		"address", ln.Addr().String(),
		"max_conns", s.config.MaxConns,
		"primary_host", s.config.Edge.PrimaryHost,
		"fallback_host", s.config.Edge.FallbackHost,
	)
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// Address returns the bound address once listening, otherwise the configured one.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
// It preserves http.Flusher and http.Hijacker interfaces for streaming support.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for connection upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
