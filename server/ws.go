package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/gotadek/proto"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// WSServer serves a stub device over WebSocket at /device, one XML frame
// per text message.
type WSServer struct {
	Addr      string
	responder Responder
	sessions  *sessions

	mu        sync.Mutex
	listener  net.Listener
	server    *http.Server
	connected bool
}

func NewWSServer(addr string, r Responder) *WSServer {
	return &WSServer{Addr: addr, responder: r, sessions: newSessions(16)}
}

func (t *WSServer) SetMaxClients(n int) {
	t.sessions.max = n
}

func (t *WSServer) Listen() (net.Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return t.listener.Addr(), nil
	}
	l, err := net.Listen("tcp", t.Addr)
	if err != nil {
		return nil, err
	}
	t.listener = l
	return l.Addr(), nil
}

func (t *WSServer) Start() error {
	addr, err := t.Listen()
	if err != nil {
		return err
	}
	slog.Info("Starting WebSocket device server", "addr", addr.String())

	mux := http.NewServeMux()
	mux.HandleFunc("/device", t.handleWebSocket)

	t.mu.Lock()
	t.server = &http.Server{Handler: mux}
	srv, l := t.server, t.listener
	t.connected = true
	t.mu.Unlock()

	err = srv.Serve(l)
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (t *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}
	conn.SetReadLimit(proto.MaxFrameSize)
	go t.handleConnection(conn, r.RemoteAddr)
}

func (t *WSServer) handleConnection(conn *websocket.Conn, remoteAddr string) {
	var writeMu sync.Mutex
	s := newSession(remoteAddr, func(frame []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, frame)
	}, conn.Close)

	if !t.sessions.add(s) {
		slog.Warn("Max clients reached, rejecting connection", "remote_addr", remoteAddr)
		conn.Close()
		return
	}
	slog.Info("WebSocket client connected", "addr", remoteAddr, "id", s.Id)
	defer func() {
		t.sessions.remove(s)
		conn.Close()
		slog.Info("WebSocket client disconnected", "addr", remoteAddr, "id", s.Id)
	}()

	if err := s.greet(t.responder); err != nil {
		slog.Error("Failed to send greeting", "addr", remoteAddr, "error", err)
		return
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket connection error", "addr", remoteAddr, "error", err)
			}
			return
		}
		if len(frame) == 0 {
			continue
		}
		if !s.serve(t.responder, frame) {
			return
		}
	}
}

func (t *WSServer) Shutdown() error {
	slog.Info("Shutting down WebSocket device server", "addr", t.Addr)
	t.mu.Lock()
	srv, l := t.server, t.listener
	t.mu.Unlock()

	t.sessions.closeAll()
	if srv == nil {
		if l != nil {
			return l.Close()
		}
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (t *WSServer) Meta() TransportMetadata {
	t.mu.Lock()
	defer t.mu.Unlock()
	addr := t.Addr
	if t.listener != nil {
		addr = t.listener.Addr().String()
	}
	return TransportMetadata{
		ID:         "ws-" + addr,
		Protocol:   "websocket",
		Address:    addr,
		Clients:    t.sessions.len(),
		MaxClients: t.sessions.max,
		Connected:  t.connected,
	}
}
