package signalr

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned when an operation is not permitted in the
// connection's or transport's current state: sending before connected,
// starting twice, or sending on the long-polling transport after it has
// gone inactive.
var ErrInvalidState = errors.New("signalr: invalid state")

// ErrConnectionIsBeingClosed is reported to a start() caller that raced a
// stop(): the connection left the connecting state before the transport
// could be started.
var ErrConnectionIsBeingClosed = errors.New("signalr: connection is being closed")

// ErrTooManyRedirects guards against a hostile or misbehaving negotiate
// endpoint that redirects forever; see SPEC_FULL.md §9.
var ErrTooManyRedirects = errors.New("signalr: too many negotiate redirects")

// NegotiationError wraps a negotiate response that was well-formed JSON but
// semantically invalid: an explicit error(message) variant, or a payload
// advertising zero transports.
type NegotiationError struct {
	Message string
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("signalr: invalid negotiation response: %s", e.Message)
}

// WebError wraps a non-success HTTP status from a negotiate, poll, or send
// request. The status of the session-teardown DELETE is not checked.
type WebError struct {
	StatusCode int
}

func (e *WebError) Error() string {
	return fmt.Sprintf("signalr: unexpected HTTP status %d", e.StatusCode)
}

// TransportSelectionError is returned by the transport factory when none of
// the advertised transports matches the fixed webSockets-then-longPolling
// preference order.
type TransportSelectionError struct {
	Available []TransportDescription
}

func (e *TransportSelectionError) Error() string {
	return fmt.Sprintf("signalr: no usable transport among %d advertised", len(e.Available))
}
