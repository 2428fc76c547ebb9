package signalr

import "context"

// TransportDelegate receives the lifecycle events a Transport produces.
// transportDidOpen fires at most once and only before any
// transportDidReceiveData. transportDidClose fires exactly once and is
// terminal. After it, the long-polling transport's Send fails with
// ErrInvalidState; the WebSocket transport's Send returns the error of the
// write on the closed connection instead.
type TransportDelegate interface {
	transportDidOpen()
	transportDidReceiveData(data []byte)
	transportDidClose(err error)
}

// Transport is the capability contract HTTPConnection drives. WebSocket and
// LongPolling are the two implementations; ServerSentEvents is decoded by
// the negotiate layer but never produces a Transport (see transport_factory.go).
type Transport interface {
	// SetDelegate installs the callback sink. It must be called exactly
	// once, before Start.
	SetDelegate(delegate TransportDelegate)

	// Start begins operation against url and returns an error if the
	// transport could not be brought up at all. The WebSocket transport
	// dials inside Start and fires transportDidOpen before returning; the
	// long-polling transport returns at once and fires transportDidOpen
	// from its poll loop on the first 200.
	Start(ctx context.Context, url string) error

	// Send enqueues bytes and blocks until the transport's own send
	// primitive (a WebSocket frame write, a long-poll POST) completes.
	Send(data []byte) error

	// Close initiates shutdown. It is idempotent and returns before
	// shutdown necessarily completes; transportDidClose is the
	// authoritative completion signal.
	Close() error

	// InherentKeepAlive reports whether the transport's own protocol
	// already proves liveness. LongPolling: true. WebSocket: false --
	// the layer above must ping.
	InherentKeepAlive() bool
}
