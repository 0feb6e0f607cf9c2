// Package telemetry provides request tagging, metrics and tracing for the edge router.
package telemetry

import (
	"context"
	"net/http"
)

type contextKey string

const (
	// requestTagsKey is the context key for request tags holder.
	requestTagsKey contextKey = "request_tags"
	// originKey is the context key for the origin role of an outbound request.
	originKey contextKey = "origin"
)

// Route describes which branch of the edge pipeline produced the response.
type Route string

const (
	RoutePurge    Route = "purge"
	RouteRejected Route = "rejected"
	RouteRedirect Route = "redirect"
	RouteOrigin   Route = "origin"
)

// Origin roles used to label outbound requests.
const (
	OriginPrimary  = "primary"
	OriginFallback = "fallback"
)

// RequestTags holds mutable request metadata that the pipeline sets for logging and metrics.
type RequestTags struct {
	Route     Route
	Origin    string
	RequestID string
}

// InjectTags creates a new request with an empty RequestTags in context.
// Call this in middleware before handlers run.
func InjectTags(r *http.Request) *http.Request {
	tags := &RequestTags{}
	return r.WithContext(context.WithValue(r.Context(), requestTagsKey, tags))
}

// GetTags retrieves the request tags from context.
// Returns nil if not in a request context with the edge middleware.
func GetTags(r *http.Request) *RequestTags {
	return TagsFromContext(r.Context())
}

// TagsFromContext retrieves the request tags from a context.
func TagsFromContext(ctx context.Context) *RequestTags {
	if tags, ok := ctx.Value(requestTagsKey).(*RequestTags); ok {
		return tags
	}
	return nil
}

// SetRoute sets the pipeline route for logging and metrics.
func SetRoute(ctx context.Context, route Route) {
	if tags := TagsFromContext(ctx); tags != nil {
		tags.Route = route
	}
}

// SetOrigin records which origin produced the final response.
func SetOrigin(ctx context.Context, origin string) {
	if tags := TagsFromContext(ctx); tags != nil {
		tags.Origin = origin
	}
}

// SetRequestID records the request ID.
func SetRequestID(ctx context.Context, id string) {
	if tags := TagsFromContext(ctx); tags != nil {
		tags.RequestID = id
	}
}

// OriginFromContext returns the origin role of an outbound request, or "unknown".
func OriginFromContext(ctx context.Context) string {
	if o, ok := ctx.Value(originKey).(string); ok && o != "" {
		return o
	}
	return "unknown"
}

// WithOrigin returns a context labelled with the origin role for outbound metrics.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey, origin)
}
