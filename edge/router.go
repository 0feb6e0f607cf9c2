// Package edge implements the per-request decision pipeline of the static
// router: method filtering, TTL assignment, path normalization, origin
// selection with a single fallback hop, CORS decoration and request logging.
//
// Router.Handle is free of network and host-runtime concerns; origins are
// reached through a Sender and log lines leave through an AccessLog.
package edge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/wolfeidau/static-router/accesslog"
	"github.com/wolfeidau/static-router/config"
	"github.com/wolfeidau/static-router/telemetry"
)

// MethodPurge is the cache invalidation method. Purge requests bypass the
// pipeline and are never logged.
const MethodPurge = "PURGE"

// Sender sends a body-less request to an origin host.
type Sender interface {
	Send(ctx context.Context, req *http.Request, host string) (*http.Response, error)
}

// AccessLog receives the request log builder once per logged invocation.
type AccessLog interface {
	Emit(ctx context.Context, b *accesslog.Builder)
}

// stage is one step of the pipeline. Returning a response or an error ends
// the pipeline; returning neither continues with the (possibly mutated) request.
type stage func(ctx context.Context, cfg *config.Config, req *http.Request) (*http.Response, error)

// Router runs the edge pipeline for each invocation.
type Router struct {
	sender    Sender
	accessLog AccessLog
	logger    *slog.Logger
	now       func() time.Time
	stages    []stage
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithAccessLog sets the destination for request log records.
func WithAccessLog(al AccessLog) Option {
	return func(r *Router) {
		r.accessLog = al
	}
}

// WithClock overrides the clock used for log timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		r.now = now
	}
}

// NewRouter creates a router that reaches origins through sender.
func NewRouter(sender Sender, opts ...Option) *Router {
	r := &Router{
		sender:    sender,
		accessLog: discardAccessLog{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.stages = []stage{
		filterMethod,
		assignTTL,
		normalizePath,
		redirectDump,
		r.fetch,
	}
	return r
}

// Handle runs one invocation. A returned error is a transport failure that
// left no response to relay.
func (r *Router) Handle(ctx context.Context, cfg *config.Config, req *http.Request) (*http.Response, error) {
	if req.Method == MethodPurge {
		telemetry.SetRoute(ctx, telemetry.RoutePurge)
		return r.forward(ctx, cfg, req)
	}

	log := collectRequest(r.now(), req)
	hasOrigin := len(req.Header.Values("Origin")) > 0

	resp, err := r.run(ctx, cfg, req.Clone(ctx))

	if hasOrigin {
		AddCORSHeaders(resp, err)
	}

	collectResponse(log, resp, err)
	r.accessLog.Emit(ctx, log)

	return resp, err
}

func (r *Router) run(ctx context.Context, cfg *config.Config, req *http.Request) (*http.Response, error) {
	for _, s := range r.stages {
		resp, err := s(ctx, cfg, req)
		if err != nil || resp != nil {
			return resp, err
		}
	}
	return nil, errors.New("pipeline finished without a response")
}

func (r *Router) fetch(ctx context.Context, cfg *config.Config, req *http.Request) (*http.Response, error) {
	telemetry.SetRoute(ctx, telemetry.RouteOrigin)
	return r.forward(ctx, cfg, req)
}

type discardAccessLog struct{}

func (discardAccessLog) Emit(context.Context, *accesslog.Builder) {}
