package edge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wolfeidau/static-router/config"
	"github.com/wolfeidau/static-router/telemetry"
)

const (
	// DumpSuffix identifies the database dump, which is too large to proxy.
	DumpSuffix = "db-dump.tar.gz"

	// TTLHeader carries the cache lifetime hint on outbound requests.
	TTLHeader = "Surrogate-Control"

	// corsMaxAge matches the max-age advertised by the previous CDN.
	corsMaxAge = "3000"
)

// methodNotAllowedBody is sent with the 401 for rejected methods.
const methodNotAllowedBody = "Method not allowed"

// FilterMethod returns a terminal response for methods other than GET and
// HEAD, or nil when the request may continue.
//
// The status is 401 rather than 405 to stay compatible with the previous CDN.
func FilterMethod(req *http.Request) *http.Response {
	if req.Method == http.MethodGet || req.Method == http.MethodHead {
		return nil
	}
	return textResponse(req, http.StatusUnauthorized, methodNotAllowedBody)
}

func filterMethod(ctx context.Context, _ *config.Config, req *http.Request) (*http.Response, error) {
	resp := FilterMethod(req)
	if resp != nil {
		telemetry.SetRoute(ctx, telemetry.RouteRejected)
	}
	return resp, nil
}

// AssignTTL stamps req with the cache lifetime hint.
func AssignTTL(req *http.Request, ttl time.Duration) {
	req.Header.Set(TTLHeader, "max-age="+strconv.FormatInt(int64(ttl/time.Second), 10))
}

// TTL returns the cache lifetime hint set by AssignTTL.
func TTL(req *http.Request) (time.Duration, bool) {
	v, ok := strings.CutPrefix(req.Header.Get(TTLHeader), "max-age=")
	if !ok {
		return 0, false
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func assignTTL(_ context.Context, cfg *config.Config, req *http.Request) (*http.Response, error) {
	AssignTTL(req, cfg.StaticTTL)
	return nil, nil
}

// EncodePlus replaces every literal '+' in an escaped path with %2B.
func EncodePlus(escapedPath string) string {
	return strings.ReplaceAll(escapedPath, "+", "%2B")
}

// NormalizePath rewrites literal '+' characters in the request path to %2B so
// objects are addressed the same way whichever encoding the client used.
// The decoded Path is unchanged; the wire form (RawPath) carries %2B.
func NormalizePath(req *http.Request) {
	escaped := req.URL.EscapedPath()
	if !strings.Contains(escaped, "+") {
		return
	}
	req.URL.RawPath = EncodePlus(escaped)
}

func normalizePath(_ context.Context, _ *config.Config, req *http.Request) (*http.Response, error) {
	NormalizePath(req)
	return nil, nil
}

// DumpRedirect returns the temporary redirect to the distribution host's
// copy of the database dump.
func DumpRedirect(req *http.Request, cfg *config.Config) *http.Response {
	resp := textResponse(req, http.StatusTemporaryRedirect, "")
	resp.Header.Del("Content-Type")
	resp.Header.Set("Location", fmt.Sprintf("https://%s/%s", cfg.DistributionHost, DumpSuffix))
	return resp
}

func redirectDump(ctx context.Context, cfg *config.Config, req *http.Request) (*http.Response, error) {
	if !strings.HasSuffix(req.URL.EscapedPath(), DumpSuffix) {
		return nil, nil
	}
	telemetry.SetRoute(ctx, telemetry.RouteRedirect)
	return DumpRedirect(req, cfg), nil
}

// AddCORSHeaders decorates a successful response with the cross-origin
// headers. It does nothing when the invocation failed.
func AddCORSHeaders(resp *http.Response, err error) {
	if err != nil || resp == nil {
		return
	}
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	resp.Header.Set("Access-Control-Allow-Origin", "*")
	resp.Header.Set("Access-Control-Allow-Methods", "GET")
	resp.Header.Set("Access-Control-Max-Age", corsMaxAge)
}

func textResponse(req *http.Request, status int, body string) *http.Response {
	resp := &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          http.NoBody,
		ContentLength: int64(len(body)),
		Request:       req,
	}
	if body != "" {
		resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
		resp.Body = io.NopCloser(strings.NewReader(body))
	}
	return resp
}
