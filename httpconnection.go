package signalr

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/teivah/onecontext"
)

// Doer is the *http.Client interface. Swapping in a fake Doer is how
// httpconnection_test.go and longpolling_transport_test.go drive
// HTTPConnection and the long-polling transport without a real server, the same way the teacher's httpConnection abstracted away
// *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ConnectionDelegate receives the events HTTPConnection produces. Exactly
// one of {ConnectionDidOpen eventually followed by ConnectionDidClose,
// ConnectionDidFailToOpen} fires per connection lifetime. Delivery is
// serialized and FIFO with respect to itself, modeling the "main dispatch
// context" SPEC_FULL.md §4.5 requires callbacks land on.
type ConnectionDelegate interface {
	ConnectionDidOpen(connectionID string)
	ConnectionDidReceiveData(data []byte)
	ConnectionDidFailToOpen(err error)
	ConnectionDidClose(err error)
}

const maxNegotiateRedirects = 100

// HTTPConnection is the top-level state machine described in SPEC_FULL.md
// §4.5: it drives negotiation, follows redirects, starts the selected
// Transport, and exposes Send/Stop plus the ConnectionDelegate events to the
// layer above. It owns exactly one Transport at a time.
type HTTPConnection struct {
	ownerCtx context.Context

	client          Doer
	headers         func() http.Header
	skipNegotiation bool
	factory         *transportFactory

	instanceID string
	info, dbg  StructuredLogger

	// mu is the Go equivalent of the teacher's serial connectionQueue: it
	// linearizes reads and writes of every field below it, the only
	// fields HTTPConnection mutates after construction.
	mu                  sync.Mutex
	curState            ConnectionState
	url                 string
	connectionID        string
	accessTokenProvider func() (string, error)
	transport           Transport
	stopError           error

	delegate ConnectionDelegate

	// startBarrier is the one-shot counting latch from SPEC_FULL.md §5:
	// Stop blocks on it so shutdown can never race past negotiation. It
	// is left exactly once, by whichever path resolves Start -- success
	// or failure.
	startBarrier     chan struct{}
	leaveBarrierOnce sync.Once

	// terminalOnce guards the single failure-or-close event a connection
	// ever reports once it starts connecting: failOpen, a close observed
	// while still connecting, and Stop's synthesized close (when Stop
	// outraces negotiation and finds no transport to close) all funnel
	// through it, so a racing Stop can never double-report alongside a
	// concurrent negotiate failure.
	terminalOnce sync.Once

	eventCh chan func()
}

// Option configures an HTTPConnection. Options are applied left-to-right in
// NewHTTPConnection and the first one that returns an error aborts
// construction, the same func(Party) error idiom the teacher's
// clientoptions.go/options.go use for Party.
type Option func(*HTTPConnection) error

// NewHTTPConnection builds an HTTPConnection for address but does not start
// it. ctx is the connection's owning context: Start merges it with the
// caller's own per-call context via onecontext.Merge, the same pattern the
// teacher's client.go uses to combine a hub's lifetime context with a
// request's context.
func NewHTTPConnection(ctx context.Context, address string, options ...Option) (*HTTPConnection, error) {
	c := &HTTPConnection{
		ownerCtx:     ctx,
		url:          address,
		curState:     StateInitial,
		startBarrier: make(chan struct{}),
		eventCh:      make(chan func(), 64),
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(c); err != nil {
			return nil, err
		}
	}
	if c.client == nil {
		c.client = http.DefaultClient
	}
	if c.info == nil || c.dbg == nil {
		c.info, c.dbg = buildInfoDebugLogger(log.NewNopLogger(), false)
	}
	c.instanceID = uuid.New().String()
	c.info, c.dbg = prefixLoggers(c.info, c.dbg, "HTTPConnection", c.instanceID)
	c.factory = &transportFactory{
		client:  c.client,
		headers: c.requestHeaders,
		info:    c.info,
		dbg:     c.dbg,
	}
	go c.runEventLoop()
	return c, nil
}

func (c *HTTPConnection) runEventLoop() {
	for fn := range c.eventCh {
		fn()
	}
}

func (c *HTTPConnection) dispatch(fn func()) {
	c.eventCh <- fn
}

// SetDelegate installs the event sink. Call it before Start.
func (c *HTTPConnection) SetDelegate(delegate ConnectionDelegate) {
	c.mu.Lock()
	c.delegate = delegate
	c.mu.Unlock()
}

func (c *HTTPConnection) state() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curState
}

// changeState performs a guarded compare-and-set: it mutates curState only
// if from is nil (force-set) or *from equals the current state, and always
// returns the state observed before the (attempted) mutation.
func (c *HTTPConnection) changeState(from *ConnectionState, to ConnectionState) ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.curState
	if from != nil && prev != *from {
		return prev
	}
	c.curState = to
	return prev
}

func (c *HTTPConnection) leaveStartBarrier() {
	c.leaveBarrierOnce.Do(func() { close(c.startBarrier) })
}

func (c *HTTPConnection) requestHeaders() http.Header {
	c.mu.Lock()
	headersFn, tokenFn := c.headers, c.accessTokenProvider
	c.mu.Unlock()

	h := http.Header{}
	if headersFn != nil {
		h = headersFn().Clone()
	}
	if tokenFn != nil {
		if token, err := tokenFn(); err == nil && token != "" {
			h.Set("Authorization", "Bearer "+token)
		}
	}
	return h
}

// Start begins negotiation (unless WithSkipNegotiation was set) and, once a
// transport is selected, starts it. It returns once the start sequence has
// been accepted, not once the connection is open -- ConnectionDidOpen or
// ConnectionDidFailToOpen reports that asynchronously.
func (c *HTTPConnection) Start(ctx context.Context) error {
	from := StateInitial
	if prev := c.changeState(&from, StateConnecting); prev != StateInitial {
		err := ErrInvalidState
		c.fireFailToOpen(err)
		return err
	}
	merged, cancel := onecontext.Merge(c.ownerCtx, ctx)
	_ = c.dbg.Log(evt, "start", "url", c.currentURL())
	go func() {
		defer cancel()
		c.runStart(merged)
	}()
	return nil
}

func (c *HTTPConnection) currentURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

func (c *HTTPConnection) runStart(ctx context.Context) {
	if c.skipNegotiation {
		transport, err := c.factory.create(skipNegotiationTransports())
		if err != nil {
			c.failOpen(err)
			return
		}
		c.startTransport(ctx, transport, "")
		return
	}
	c.negotiate(ctx, 0)
}

func (c *HTTPConnection) negotiate(ctx context.Context, redirects int) {
	if redirects > maxNegotiateRedirects {
		c.failOpen(ErrTooManyRedirects)
		return
	}

	negotiateURL, err := buildNegotiateURL(c.currentURL())
	if err != nil {
		c.failOpen(err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, negotiateURL, nil)
	if err != nil {
		c.failOpen(err)
		return
	}
	req.Header = c.requestHeaders()

	_ = c.dbg.Log(evt, "negotiate", "url", negotiateURL, "redirect", redirects)
	resp, err := c.client.Do(req)
	if err != nil {
		c.failOpen(err)
		return
	}
	defer closeResponseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		c.failOpen(&WebError{StatusCode: resp.StatusCode})
		return
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.failOpen(err)
		return
	}

	decoded, err := DecodeNegotiationResponse(body)
	if err != nil {
		c.failOpen(err)
		return
	}

	switch nr := decoded.(type) {
	case *ErrorNegotiation:
		c.failOpen(&NegotiationError{Message: nr.Message})

	case *RedirectNegotiation:
		c.mu.Lock()
		c.url = nr.URL
		if nr.AccessToken != "" {
			token := nr.AccessToken
			c.accessTokenProvider = func() (string, error) { return token, nil }
		}
		c.mu.Unlock()
		_ = c.info.Log(evt, "redirect", "url", nr.URL)
		c.negotiate(ctx, redirects+1)

	case *PayloadNegotiation:
		if len(nr.AvailableTransports) == 0 {
			c.failOpen(&NegotiationError{Message: "negotiate response lists no available transports"})
			return
		}
		transport, err := c.factory.create(nr.AvailableTransports)
		if err != nil {
			c.failOpen(err)
			return
		}
		id := nr.ConnectionToken
		if id == "" {
			id = nr.ConnectionID
		}
		c.mu.Lock()
		c.connectionID = nr.ConnectionID
		c.mu.Unlock()
		c.startTransport(ctx, transport, id)

	default:
		c.failOpen(&NegotiationError{Message: "unrecognized negotiate response"})
	}
}

func (c *HTTPConnection) startTransport(ctx context.Context, transport Transport, connectionID string) {
	connecting := StateConnecting
	if c.changeState(&connecting, StateConnecting) != StateConnecting {
		c.failOpen(ErrConnectionIsBeingClosed)
		return
	}

	startURL, err := appendConnectionID(c.currentURL(), connectionID)
	if err != nil {
		c.failOpen(err)
		return
	}

	transport.SetDelegate(newTransportDelegateAdapter(c))
	c.mu.Lock()
	c.transport = transport
	c.mu.Unlock()

	_ = c.dbg.Log(evt, "startTransport", "url", startURL)
	if err := transport.Start(ctx, startURL); err != nil {
		c.failOpen(err)
	}
}

// failOpen is reached from the negotiate/start-transport path, before any
// transport has produced a terminal callback of its own: it force-stops the
// machine, releases Stop if it is waiting, and reports
// ConnectionDidFailToOpen exactly once.
func (c *HTTPConnection) failOpen(err error) {
	c.changeState(nil, StateStopped)
	c.leaveStartBarrier()
	c.terminalOnce.Do(func() {
		_ = c.info.Log(evt, "connectionDidFailToOpen", "error", err)
		c.fireFailToOpen(err)
	})
}

func (c *HTTPConnection) onTransportDidOpen() {
	connecting := StateConnecting
	if c.changeState(&connecting, StateConnected) != StateConnecting {
		// Stop moved the machine first: release a Stop waiting on the
		// barrier so it can close the transport.
		c.leaveStartBarrier()
		return
	}
	c.leaveStartBarrier()
	_ = c.info.Log(evt, "connectionDidOpen")
	c.fireDidOpen()
}

func (c *HTTPConnection) onTransportDidReceiveData(data []byte) {
	c.fireDidReceiveData(data)
}

func (c *HTTPConnection) onTransportDidClose(err error) {
	prev := c.changeState(nil, StateStopped)
	c.leaveStartBarrier()
	c.mu.Lock()
	stopErr := c.stopError
	c.mu.Unlock()
	final := err
	if stopErr != nil {
		final = stopErr
	}
	if prev == StateConnecting {
		c.terminalOnce.Do(func() {
			_ = c.info.Log(evt, "connectionDidFailToOpen", "error", final)
			c.fireFailToOpen(final)
		})
		return
	}
	c.terminalOnce.Do(func() {
		_ = c.info.Log(evt, "connectionDidClose", "error", final)
		c.fireDidClose(final)
	})
}

// Send transmits data over the current transport. It is only legal once the
// connection has reached StateConnected.
func (c *HTTPConnection) Send(data []byte) error {
	if c.state() != StateConnected {
		return ErrInvalidState
	}
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return ErrInvalidState
	}
	return t.Send(data)
}

// Stop tears the connection down. err, if non-nil, is a user-requested stop
// cause that takes precedence over whatever error the transport itself
// reports in the final ConnectionDidClose.
func (c *HTTPConnection) Stop(err error) {
	prev := c.changeState(nil, StateStopped)
	if prev == StateStopped {
		return
	}
	if prev == StateInitial {
		_ = c.info.Log(evt, "stop", msg, "stop called on a connection that was never started")
		return
	}
	c.mu.Lock()
	c.stopError = err
	c.mu.Unlock()

	// Wait for start to resolve one way or another before acting, so Stop
	// never races an in-flight negotiate.
	<-c.startBarrier

	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t != nil {
		_ = t.Close()
		return
	}
	// Start never got past negotiation: there is no transport to close,
	// so synthesize the terminal event directly. terminalOnce suppresses
	// this if failOpen already reported first.
	c.terminalOnce.Do(func() {
		_ = c.info.Log(evt, "connectionDidClose", "error", err)
		c.fireDidClose(err)
	})
}

func (c *HTTPConnection) fireDidOpen() {
	c.mu.Lock()
	d, id := c.delegate, c.connectionID
	c.mu.Unlock()
	if d == nil {
		return
	}
	c.dispatch(func() { d.ConnectionDidOpen(id) })
}

func (c *HTTPConnection) fireDidReceiveData(data []byte) {
	c.mu.Lock()
	d := c.delegate
	c.mu.Unlock()
	if d == nil {
		return
	}
	c.dispatch(func() { d.ConnectionDidReceiveData(data) })
}

func (c *HTTPConnection) fireFailToOpen(err error) {
	c.mu.Lock()
	d := c.delegate
	c.mu.Unlock()
	if d == nil {
		return
	}
	c.dispatch(func() { d.ConnectionDidFailToOpen(err) })
}

func (c *HTTPConnection) fireDidClose(err error) {
	c.mu.Lock()
	d := c.delegate
	c.mu.Unlock()
	if d == nil {
		return
	}
	c.dispatch(func() { d.ConnectionDidClose(err) })
}

func buildNegotiateURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.Path = path.Join(u.Path, "negotiate")
	q := u.Query()
	q.Set("negotiateVersion", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func appendConnectionID(rawURL, connectionID string) (string, error) {
	if connectionID == "" {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("id", connectionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// closeResponseBody reads a http response body to the end and closes it, so
// the underlying connection can be reused by the client's transport pool.
// See https://blog.cubieserver.de/2022/http-connection-reuse-in-go-clients/
func closeResponseBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
