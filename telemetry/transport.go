package telemetry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Origin fetch outcomes.
const (
	FetchSuccess  = "success"
	FetchRedirect = "redirect"
	Fetch4xx      = "4xx"
	Fetch5xx      = "5xx"
	FetchTimeout  = "timeout"
	FetchCanceled = "canceled"
	FetchError    = "error"
)

// InstrumentedTransport records one origin fetch per round trip, labelled with
// the origin role carried in the request context (see WithOrigin). The fetch
// is recorded once the body has been read to EOF or closed, whichever is first.
type InstrumentedTransport struct {
	base http.RoundTripper
}

// NewInstrumentedTransport creates a new instrumented transport.
// If base is nil, http.DefaultTransport is used.
func NewInstrumentedTransport(base http.RoundTripper) *InstrumentedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &InstrumentedTransport{base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	origin := OriginFromContext(ctx)
	start := time.Now()

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("edge.origin", origin))

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		RecordOriginFetch(ctx, origin, time.Since(start), 0, FetchOutcome(ctx, nil, err))
		return nil, err
	}

	resp.Body = &instrumentedBody{
		ReadCloser: resp.Body,
		ctx:        ctx,
		origin:     origin,
		start:      start,
		outcome:    FetchOutcome(ctx, resp, nil),
	}
	return resp, nil
}

// FetchOutcome classifies an origin round trip. Origin redirects are relayed
// to the client rather than followed, so they get their own outcome.
func FetchOutcome(ctx context.Context, resp *http.Response, err error) string {
	if err != nil {
		var netErr net.Error
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			return FetchCanceled
		case errors.Is(ctx.Err(), context.DeadlineExceeded),
			errors.As(err, &netErr) && netErr.Timeout():
			return FetchTimeout
		}
		return FetchError
	}

	switch {
	case resp.StatusCode >= 500:
		return Fetch5xx
	case resp.StatusCode >= 400:
		return Fetch4xx
	case resp.StatusCode >= 300:
		return FetchRedirect
	}
	return FetchSuccess
}

// instrumentedBody counts bytes relayed from the origin.
type instrumentedBody struct {
	io.ReadCloser
	ctx      context.Context
	origin   string
	start    time.Time
	bytes    int64
	outcome  string
	recorded bool
}

func (b *instrumentedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.bytes += int64(n)
	if errors.Is(err, io.EOF) {
		b.record()
	}
	return n, err
}

func (b *instrumentedBody) Close() error {
	b.record()
	return b.ReadCloser.Close()
}

func (b *instrumentedBody) record() {
	if b.recorded {
		return
	}
	b.recorded = true
	RecordOriginFetch(b.ctx, b.origin, time.Since(b.start), b.bytes, b.outcome)
}
