package edge

import (
	"net"
	"net/http"
	"time"

	"github.com/wolfeidau/static-router/accesslog"
)

// collectRequest records the request phase of the log line.
func collectRequest(start time.Time, req *http.Request) *accesslog.Builder {
	method := req.Method
	return accesslog.NewBuilder().
		DateTime(start.UTC()).
		URL(requestURL(req)).
		IP(clientIP(req)).
		Method(&method)
}

// collectResponse records the response phase. A failed invocation is logged
// as a 500 with unknown length.
func collectResponse(b *accesslog.Builder, resp *http.Response, err error) {
	if err != nil || resp == nil {
		status := http.StatusInternalServerError
		b.Status(&status)
		return
	}

	if resp.ContentLength >= 0 {
		n := resp.ContentLength
		b.Bytes(&n)
	}
	status := resp.StatusCode
	b.Status(&status)
}

// requestURL returns the absolute URL the client asked for.
func requestURL(req *http.Request) string {
	if req.URL.IsAbs() {
		return req.URL.String()
	}
	u := *req.URL
	u.Scheme = "http"
	if req.TLS != nil {
		u.Scheme = "https"
	}
	u.Host = req.Host
	return u.String()
}

// clientIP returns the client address without its port.
func clientIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
