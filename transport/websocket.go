package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/gotadek/proto"
)

// WebSocketTransport carries one frame per text message.
type WebSocketTransport struct {
	URL     string
	Timeout time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewWebSocketTransport accepts either a full ws:// URL or a host:port
// address, which is mapped to ws://host:port/device.
func NewWebSocketTransport(addr string, timeout time.Duration) (*WebSocketTransport, error) {
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		u, err = url.Parse("ws://" + addr)
		if err != nil {
			return nil, fmt.Errorf("invalid WebSocket address %q: %w", addr, err)
		}
	}

	// Convert tcp addresses to WebSocket URLs
	switch u.Scheme {
	case "", "tcp":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported WebSocket scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/device"
	}

	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &WebSocketTransport{URL: u.String(), Timeout: timeout}, nil
}

func (t *WebSocketTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: t.Timeout}
	conn, _, err := dialer.DialContext(ctx, t.URL, nil)
	if err != nil {
		return &ConnectionError{Op: "dial", Addr: t.URL, Err: err}
	}
	conn.SetReadLimit(proto.MaxFrameSize)
	slog.Debug("Opened WebSocket connection", "url", t.URL)

	t.conn = conn
	return nil
}

func (t *WebSocketTransport) Send(frame []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return &ConnectionError{Op: "send", Addr: t.URL, Err: ErrClosed}
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to send WebSocket message: %w", err)
	}
	return nil
}

func (t *WebSocketTransport) ReceiveFrame() ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, ErrClosed
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return nil, proto.ErrFrameTooLarge
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil, fmt.Errorf("WebSocket connection error: %w", err)
			}
			return nil, fmt.Errorf("connection closed: %w", err)
		}
		if len(data) > 0 {
			return data, nil
		}
	}
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}

	t.writeMu.Lock()
	err := t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	if err != nil {
		slog.Warn("Failed to send close message", "url", t.URL, "error", err)
	}

	err = t.conn.Close()
	t.conn = nil
	return err
}

func (t *WebSocketTransport) Meta() Metadata {
	return Metadata{Protocol: "ws", Address: t.URL}
}
