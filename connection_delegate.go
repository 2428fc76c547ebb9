package signalr

import "weak"

// transportDelegateAdapter forwards Transport callbacks into an
// HTTPConnection without keeping it alive past the caller's intent: it
// holds only a weak.Pointer, Go's stdlib analogue of the Swift client's
// weak `delegate` reference described in SPEC_FULL.md §9 ("Weak
// back-reference"). If the owning HTTPConnection has already been
// collected, the callback is a silent no-op instead of resurrecting it.
type transportDelegateAdapter struct {
	conn weak.Pointer[HTTPConnection]
}

func newTransportDelegateAdapter(c *HTTPConnection) *transportDelegateAdapter {
	return &transportDelegateAdapter{conn: weak.Make(c)}
}

func (a *transportDelegateAdapter) transportDidOpen() {
	if c := a.conn.Value(); c != nil {
		c.onTransportDidOpen()
	}
}

func (a *transportDelegateAdapter) transportDidReceiveData(data []byte) {
	if c := a.conn.Value(); c != nil {
		c.onTransportDidReceiveData(data)
	}
}

func (a *transportDelegateAdapter) transportDidClose(err error) {
	if c := a.conn.Value(); c != nil {
		c.onTransportDidClose(err)
	}
}
