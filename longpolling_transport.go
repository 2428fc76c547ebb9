package signalr

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// longPollingTransport drives the polling loop described in SPEC_FULL.md
// §4.3: a GET per iteration with a cache-busting query parameter, a POST
// per Send, and a best-effort DELETE on Close to release the server-side
// session.
type longPollingTransport struct {
	client  Doer
	headers func() http.Header

	delegate TransportDelegate

	mu     sync.Mutex
	url    string
	active bool
	opened bool

	// shutdownOnce realizes the spec's "dedicated close queue": Go's
	// idiom for an action that must run at most once, guarding the
	// DELETE and the terminal transportDidClose (every Close call clears
	// active before it) so that
	// both an external Close() and the poll loop's own exit converge on
	// exactly one shutdown sequence.
	shutdownOnce sync.Once
	closeErr     error

	info, dbg StructuredLogger
}

func newLongPollingTransport(client Doer, headers func() http.Header, info, dbg StructuredLogger) *longPollingTransport {
	return &longPollingTransport{client: client, headers: headers, info: info, dbg: dbg}
}

func (t *longPollingTransport) SetDelegate(delegate TransportDelegate) {
	t.delegate = delegate
}

func (t *longPollingTransport) InherentKeepAlive() bool {
	return true
}

func (t *longPollingTransport) Start(ctx context.Context, rawURL string) error {
	t.mu.Lock()
	t.url = rawURL
	t.active = true
	t.opened = false
	t.mu.Unlock()

	go t.pollLoop(ctx)
	return nil
}

func (t *longPollingTransport) isActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *longPollingTransport) setInactive(err error) {
	t.mu.Lock()
	t.active = false
	if t.closeErr == nil {
		t.closeErr = err
	}
	t.mu.Unlock()
}

func (t *longPollingTransport) pollLoop(ctx context.Context) {
	for t.isActive() {
		if !t.pollOnce(ctx) {
			break
		}
	}
	t.Close()
}

// pollOnce issues one GET and handles the response. It returns true if the
// loop should reissue another poll, false if the session is ending.
func (t *longPollingTransport) pollOnce(ctx context.Context) bool {
	t.mu.Lock()
	base := t.url
	t.mu.Unlock()

	pollURL, err := withCacheBuster(base)
	if err != nil {
		t.setInactive(err)
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		t.setInactive(err)
		return false
	}
	if t.headers != nil {
		req.Header = t.headers()
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if isClientTimeout(err) {
			// Client-side timeout on a poll GET is not an error: reissue.
			return true
		}
		t.setInactive(err)
		return false
	}
	defer closeBody(resp.Body)

	switch resp.StatusCode {
	case http.StatusNoContent:
		// Server-initiated graceful termination.
		t.setInactive(nil)
		return false

	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			t.setInactive(readErr)
			return false
		}
		t.mu.Lock()
		firstOpen := !t.opened
		t.opened = true
		t.mu.Unlock()
		if firstOpen {
			_ = t.dbg.Log(evt, "transportDidOpen", "transport", "LongPolling")
			t.delegate.transportDidOpen()
			return true
		}
		if len(body) > 0 {
			t.delegate.transportDidReceiveData(body)
			return true
		}
		// Empty 200 after the handshake: a server-side long-poll timeout.
		return true

	case http.StatusNotFound:
		if !t.isActive() {
			// A poll was in-flight when Close() already destroyed the
			// session server-side: benign shutdown race, not an error.
			return false
		}
		t.setInactive(&WebError{StatusCode: http.StatusNotFound})
		return false

	default:
		t.setInactive(&WebError{StatusCode: resp.StatusCode})
		return false
	}
}

func (t *longPollingTransport) Send(data []byte) error {
	if !t.isActive() {
		return ErrInvalidState
	}
	t.mu.Lock()
	target := t.url
	t.mu.Unlock()

	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return err
	}
	if t.headers != nil {
		req.Header = t.headers()
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &WebError{StatusCode: resp.StatusCode}
	}
	return nil
}

func (t *longPollingTransport) Close() error {
	t.mu.Lock()
	t.active = false
	t.mu.Unlock()

	t.shutdownOnce.Do(func() {
		t.mu.Lock()
		target := t.url
		t.mu.Unlock()

		req, err := http.NewRequest(http.MethodDelete, target, nil)
		var deleteErr error
		if err != nil {
			deleteErr = err
		} else {
			if t.headers != nil {
				req.Header = t.headers()
			}
			resp, doErr := t.client.Do(req)
			if doErr != nil {
				deleteErr = doErr
			} else {
				closeBody(resp.Body)
			}
		}

		t.mu.Lock()
		finalErr := t.closeErr
		t.mu.Unlock()
		if finalErr == nil {
			finalErr = deleteErr
		}
		_ = t.info.Log(evt, "transportDidClose", "transport", "LongPolling", "error", finalErr)
		t.delegate.transportDidClose(finalErr)
	})
	return nil
}

func withCacheBuster(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("_", strconv.FormatInt(time.Now().UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// isClientTimeout reports whether err is a client-side (local) timeout, as
// opposed to a server error -- net.Error is the standard library's own
// vocabulary for this distinction.
func isClientTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func closeBody(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
