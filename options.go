package signalr

import (
	"net/http"

	"github.com/go-kit/log"
)

// WithHTTPClient sets the Doer used for negotiate and long-poll
// GET/POST/DELETE. The WebSocket transport does not use it, neither for
// the dial nor for the open connection.
func WithHTTPClient(client Doer) Option {
	return func(c *HTTPConnection) error {
		c.client = client
		return nil
	}
}

// WithHTTPClientFactory defers Doer construction to connection build time,
// for callers who need a fresh client per connection (distinct cookie jars,
// per-connection TLS config) rather than one shared across connections.
func WithHTTPClientFactory(factory func() Doer) Option {
	return func(c *HTTPConnection) error {
		if factory != nil {
			c.client = factory()
		}
		return nil
	}
}

// WithHTTPHeaders sets the function providing request headers for negotiate,
// long-poll, and WebSocket dial requests. It is called fresh on every
// request, so it can return time-varying headers.
func WithHTTPHeaders(headers func() http.Header) Option {
	return func(c *HTTPConnection) error {
		c.headers = headers
		return nil
	}
}

// WithAccessTokenProvider supplies a bearer token attached as an
// Authorization header to every negotiate, poll, and dial request. A
// redirection response carrying a non-empty access token replaces it for
// every later request of the connection, per SPEC_FULL.md §3.
func WithAccessTokenProvider(provider func() (string, error)) Option {
	return func(c *HTTPConnection) error {
		c.accessTokenProvider = provider
		return nil
	}
}

// WithSkipNegotiation bypasses the negotiate POST entirely and starts a
// WebSocket transport directly, as if the server had advertised exactly
// webSockets{text,binary} (see skipNegotiationTransports in
// transport_factory.go).
func WithSkipNegotiation() Option {
	return func(c *HTTPConnection) error {
		c.skipNegotiation = true
		return nil
	}
}

// WithLogger sets the logger HTTPConnection uses for its event-keyed info
// and debug lines. If debug is true, debug-level lines (start, each
// negotiate request, transport start and transport open) are emitted in
// addition to info lines.
func WithLogger(logger StructuredLogger, debug bool) Option {
	return func(c *HTTPConnection) error {
		var gk log.Logger = logger
		info, dbg := buildInfoDebugLogger(gk, debug)
		c.info, c.dbg = info, dbg
		return nil
	}
}
