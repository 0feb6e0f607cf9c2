// Package origin sends requests to the object-storage origins.
package origin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfeidau/static-router/telemetry"
)

const (
	// DefaultScheme is used for hosts configured without a scheme.
	DefaultScheme = "https"

	// DefaultResponseHeaderTimeout bounds the wait for an origin's response headers.
	// Bodies are streamed to the client without a deadline.
	DefaultResponseHeaderTimeout = 30 * time.Second
)

// ErrUnknownHost is returned when a request is sent to an empty host.
var ErrUnknownHost = errors.New("unknown origin host")

// hopHeaders are stripped from outbound requests.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Client sends requests to origin hosts. It never follows redirects, so an
// origin redirect is returned to the caller unchanged.
type Client struct {
	client *http.Client
	scheme string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithScheme sets the scheme used for hosts configured without one.
func WithScheme(scheme string) Option {
	return func(c *Client) {
		c.scheme = scheme
	}
}

// NewClient creates an origin client. The default transport records origin
// fetch metrics and tracing spans.
func NewClient(opts ...Option) *Client {
	c := &Client{
		client: NewHTTPClient(DefaultResponseHeaderTimeout),
		scheme: DefaultScheme,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewHTTPClient returns the instrumented HTTP client used for origin requests.
func NewHTTPClient(responseHeaderTimeout time.Duration) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ResponseHeaderTimeout = responseHeaderTimeout
	// Responses are relayed as-is; the client negotiates its own encoding.
	base.DisableCompression = true

	return &http.Client{
		Transport: otelhttp.NewTransport(telemetry.NewInstrumentedTransport(base)),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Send issues req against host. req must already be a body-less clone owned
// by the caller; its URL is pointed at the origin and its Host header set to
// the origin's host. host is either a bare host[:port] or an absolute URL.
func (c *Client) Send(ctx context.Context, req *http.Request, host string) (*http.Response, error) {
	target, err := c.resolve(host)
	if err != nil {
		return nil, err
	}

	u := *req.URL
	u.Scheme = target.Scheme
	u.Host = target.Host
	req.URL = &u
	req.Host = target.Host
	req.RequestURI = ""
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}

	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("sending request to %s: %w", host, err)
	}
	return resp, nil
}

func (c *Client) resolve(host string) (*url.URL, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, ErrUnknownHost
	}
	if !strings.Contains(host, "://") {
		host = c.scheme + "://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parsing origin host %q: %w", host, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHost, host)
	}
	return u, nil
}
