package signalr

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
)

// webSocketTransport is a thin adapter over the ambient WebSocket client,
// grounded on the Dial/DialOptions/Write/Read/Close call sites in the
// teacher's httpconnection.go.
type webSocketTransport struct {
	headers func() http.Header

	mu        sync.Mutex
	conn      *websocket.Conn
	delegate  TransportDelegate
	closeOnce sync.Once

	info, dbg StructuredLogger
}

func newWebSocketTransport(headers func() http.Header, info, dbg StructuredLogger) *webSocketTransport {
	return &webSocketTransport{headers: headers, info: info, dbg: dbg}
}

func (t *webSocketTransport) SetDelegate(delegate TransportDelegate) {
	t.delegate = delegate
}

func (t *webSocketTransport) InherentKeepAlive() bool {
	return false
}

func (t *webSocketTransport) Start(ctx context.Context, rawURL string) error {
	wsURL, err := toWebSocketURL(rawURL)
	if err != nil {
		return err
	}
	opts := &websocket.DialOptions{}
	if t.headers != nil {
		opts.HTTPHeader = t.headers()
	}
	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	_ = t.dbg.Log(evt, "transportDidOpen", "transport", "WebSockets", "url", wsURL)
	t.delegate.transportDidOpen()
	go t.readPump(ctx)
	return nil
}

func (t *webSocketTransport) readPump(ctx context.Context) {
	for {
		_, data, err := t.conn.Read(ctx)
		if err != nil {
			t.fireClose(classifyWebSocketCloseErr(err))
			return
		}
		t.delegate.transportDidReceiveData(data)
	}
}

func (t *webSocketTransport) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrInvalidState
	}
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		return err
	}
	return nil
}

func (t *webSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	t.fireClose(nil)
	return nil
}

func (t *webSocketTransport) fireClose(err error) {
	t.closeOnce.Do(func() {
		_ = t.info.Log(evt, "transportDidClose", "transport", "WebSockets", "error", err)
		t.delegate.transportDidClose(err)
	})
}

// classifyWebSocketCloseErr turns a normal-closure close frame into a nil
// error and passes everything else through unchanged.
func classifyWebSocketCloseErr(err error) error {
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil
	}
	return err
}

func toWebSocketURL(rawURL string) (string, error) {
	switch {
	case strings.HasPrefix(rawURL, "https://"):
		return "wss://" + strings.TrimPrefix(rawURL, "https://"), nil
	case strings.HasPrefix(rawURL, "http://"):
		return "ws://" + strings.TrimPrefix(rawURL, "http://"), nil
	default:
		return rawURL, nil
	}
}
