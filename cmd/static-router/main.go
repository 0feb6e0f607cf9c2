// Command static-router is an edge router for a static-asset registry,
// proxying reads to a primary origin with a single fallback.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/wolfeidau/static-router/accesslog"
	"github.com/wolfeidau/static-router/config"
	"github.com/wolfeidau/static-router/edge"
	"github.com/wolfeidau/static-router/logging"
	"github.com/wolfeidau/static-router/origin"
	"github.com/wolfeidau/static-router/server"
	"github.com/wolfeidau/static-router/telemetry"
)

var version = "dev"

type cli struct {
	Serve   serveCmd   `cmd:"" default:"withargs" help:"Run the edge router."`
	Version versionCmd `cmd:"" help:"Print the version."`
}

type serveCmd struct {
	Config            string        `short:"c" env:"EDGE_CONFIG" help:"Path to the YAML config file. Environment variables prefixed with EDGE_ override it."`
	Address           string        `default:":8080" env:"ADDRESS" help:"Address to listen on."`
	LogLevel          string        `default:"info" enum:"debug,info,warn,error" env:"LOG_LEVEL" help:"Log level (debug, info, warn, error)."`
	LogFormat         string        `default:"text" enum:"text,json" env:"LOG_FORMAT" help:"Console log format (text, json)."`
	EchoStdout        bool          `env:"ECHO_STDOUT" help:"Copy every log line to stdout."`
	OTLPEndpoint      string        `name:"otlp-endpoint" env:"OTLP_ENDPOINT" help:"OTLP gRPC endpoint for metrics export."`
	EnablePrometheus  bool          `env:"ENABLE_PROMETHEUS" help:"Serve Prometheus metrics on /metrics."`
	MetricsToken      string        `env:"METRICS_TOKEN" help:"Bearer token required on /metrics."`
	TraceEndpoint     string        `env:"TRACE_ENDPOINT" help:"Log endpoint that receives trace spans. It must not share the request log destination. Tracing is off when empty."`
	MaxConns          int           `default:"0" env:"MAX_CONNS" help:"Maximum concurrent connections (0 for unlimited)."`
	OriginTimeout     time.Duration `default:"30s" env:"ORIGIN_TIMEOUT" help:"Time to wait for origin response headers."`
	TrustProxyHeaders bool          `env:"TRUST_PROXY_HEADERS" help:"Take the client address from X-Forwarded-For / X-Real-IP."`
}

type versionCmd struct{}

func (versionCmd) Run() error {
	fmt.Println(version)
	return nil
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var c cli
	kctx := kong.Parse(&c,
		kong.Name("static-router"),
		kong.Description("Edge router for static registry assets."),
		kong.UsageOnError(),
	)
	if err := kctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (s *serveCmd) Run() error {
	cfg, err := config.Load(s.Config)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(s.LogLevel)
	if err != nil {
		return err
	}
	console, err := logging.NewConsoleHandler(os.Stderr, s.LogFormat, level)
	if err != nil {
		return err
	}

	endpoints := logging.Open(cfg.Endpoints, logging.WithEcho(s.EchoStdout))
	defer func() {
		if err := endpoints.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error: closing log endpoints: %v\n", err)
		}
	}()

	serviceLogs, err := endpoints.Get(cfg.ServiceLogsEndpoint)
	if err != nil {
		return fmt.Errorf("opening service log endpoint: %w", err)
	}
	requestLogs, err := endpoints.Get(cfg.RequestLogsEndpoint)
	if err != nil {
		return fmt.Errorf("opening request log endpoint: %w", err)
	}

	// Service logs sent to a file are also shown on the console.
	switch cfg.Destination(cfg.ServiceLogsEndpoint) {
	case logging.DestStdout, logging.DestStderr:
		console = nil
	}
	logger := logging.NewServiceLogger(serviceLogs, level, console)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "static-router",
		ServiceVersion:   version,
		OTLPEndpoint:     s.OTLPEndpoint,
		EnablePrometheus: s.EnablePrometheus,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer shutdownTelemetry(logger, "metrics", shutdownMetrics)

	if s.TraceEndpoint != "" {
		traces, err := endpoints.GetDistinct(strings.ToLower(s.TraceEndpoint), cfg.RequestLogsEndpoint)
		if err != nil {
			return fmt.Errorf("opening trace endpoint: %w", err)
		}
		shutdownTracer, err := telemetry.InitTracer("static-router", traces, logger)
		if err != nil {
			return fmt.Errorf("initializing tracer: %w", err)
		}
		defer shutdownTelemetry(logger, "tracer", shutdownTracer)
	}

	router := edge.NewRouter(
		origin.NewClient(origin.WithHTTPClient(origin.NewHTTPClient(s.OriginTimeout))),
		edge.WithAccessLog(accesslog.NewEmitter(requestLogs, accesslog.WithLogger(logger.With("component", "accesslog")))),
		edge.WithLogger(logger.With("component", "edge")),
	)

	srv, err := server.New(server.Config{
		Address:           s.Address,
		Edge:              cfg,
		Router:            router,
		MaxConns:          s.MaxConns,
		TrustProxyHeaders: s.TrustProxyHeaders,
		MetricsToken:      s.MetricsToken,
		Logger:            logger.With("component", "server"),
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown or error
	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func shutdownTelemetry(logger *slog.Logger, name string, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error("failed to shutdown "+name, "error", err)
	}
}
