package edge

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/wolfeidau/static-router/config"
	"github.com/wolfeidau/static-router/telemetry"
)

// maxDrainBytes bounds how much of a failed primary response is read so the
// connection can be reused.
const maxDrainBytes = 64 << 10

// forward sends req to the primary origin and, when that fails at the
// transport level or answers with a 5xx, once to the fallback origin.
// The fallback's result is final.
func (r *Router) forward(ctx context.Context, cfg *config.Config, req *http.Request) (*http.Response, error) {
	primaryCtx := telemetry.WithOrigin(ctx, telemetry.OriginPrimary)
	resp, err := r.sender.Send(primaryCtx, cloneWithoutBody(primaryCtx, req), cfg.PrimaryHost)

	switch {
	case err != nil:
		r.logger.WarnContext(ctx, "request to host failed",
			"host", cfg.PrimaryHost,
			"error", err,
		)
		telemetry.RecordFallback(ctx, "error")
	case resp.StatusCode >= http.StatusInternalServerError:
		r.logger.WarnContext(ctx, "request to host returned status code",
			"host", cfg.PrimaryHost,
			"status", resp.StatusCode,
		)
		telemetry.RecordFallback(ctx, "5xx")
		discard(resp)
	default:
		telemetry.SetOrigin(ctx, telemetry.OriginPrimary)
		return resp, nil
	}

	telemetry.SetOrigin(ctx, telemetry.OriginFallback)
	fallbackCtx := telemetry.WithOrigin(ctx, telemetry.OriginFallback)
	resp, err = r.sender.Send(fallbackCtx, cloneWithoutBody(fallbackCtx, req), cfg.FallbackHost)
	if err != nil {
		return nil, fmt.Errorf("fallback origin %s: %w", cfg.FallbackHost, err)
	}
	return resp, nil
}

// cloneWithoutBody copies req for one origin attempt, leaving the original
// untouched for logging and for a second attempt.
func cloneWithoutBody(ctx context.Context, req *http.Request) *http.Request {
	c := req.Clone(ctx)
	c.Body = http.NoBody
	c.GetBody = nil
	c.ContentLength = 0
	c.TransferEncoding = nil
	c.RequestURI = ""
	return c
}

func discard(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	_ = resp.Body.Close()
}
