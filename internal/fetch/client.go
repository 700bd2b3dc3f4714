// Package fetch builds the HTTP client every remote call goes through.
package fetch

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Options configure the shared HTTP client.
type Options struct {
	Timeout      time.Duration
	UserAgent    string
	ExtraHeaders map[string]string
}

// NewClient builds the client used for probes and transfers. Every request
// carries the configured User-Agent and extra headers, and the transport is
// traced with otelhttp. Timeout bounds dialing and response headers, not
// the body read: transfers stream for as long as their context allows.
func NewClient(opts Options) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Timeout > 0 {
		transport.ResponseHeaderTimeout = opts.Timeout
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(&headerRoundTripper{
			base:      transport,
			userAgent: opts.UserAgent,
			extra:     opts.ExtraHeaders,
		}),
	}
}

// headerRoundTripper stamps static headers on every outgoing request.
// Headers already set by the caller win.
type headerRoundTripper struct {
	base      http.RoundTripper
	userAgent string
	extra     map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	if h.userAgent != "" && clone.Header.Get("User-Agent") == "" {
		clone.Header.Set("User-Agent", h.userAgent)
	}

	for name, value := range h.extra {
		if clone.Header.Get(name) == "" {
			clone.Header.Set(name, value)
		}
	}

	return h.base.RoundTrip(clone)
}
