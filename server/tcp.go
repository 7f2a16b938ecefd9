package server

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/mbocsi/gotadek/proto"
)

// TCPServer serves a stub device over TCP with terminated XML frames.
type TCPServer struct {
	Addr      string
	responder Responder
	sessions  *sessions

	mu        sync.Mutex
	listener  net.Listener
	connected bool
}

func NewTCPServer(addr string, r Responder) *TCPServer {
	return &TCPServer{Addr: addr, responder: r, sessions: newSessions(16)}
}

func (t *TCPServer) SetMaxClients(n int) {
	t.sessions.max = n
}

// Listen binds the address; Start calls it when needed.
func (t *TCPServer) Listen() (net.Addr, error) {
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

func (t *TCPServer) Start() error {
	addr, err := t.Listen()
	if err != nil {
		return err
	}
	slog.Info("Starting tcp device server", "addr", addr.String())

	t.mu.Lock()
	l := t.listener
	t.connected = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go t.handleConnection(conn)
	}
}

func (t *TCPServer) handleConnection(c net.Conn) {
	ip := c.RemoteAddr().String()

	var writeMu sync.Mutex
	s := newSession(ip, func(frame []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err := c.Write(proto.AppendTerminator(frame))
		return err
	}, c.Close)

	if !t.sessions.add(s) {
		slog.Warn("Max clients reached, rejecting connection", "remote_addr", ip)
		c.Close()
		return
	}
	slog.Info("Client connected", "addr", ip, "id", s.Id)
	defer func() {
		t.sessions.remove(s)
		c.Close()
		slog.Info("Client disconnected", "addr", ip, "id", s.Id)
	}()

	if err := s.greet(t.responder); err != nil {
		slog.Error("Failed to send greeting", "addr", ip, "error", err)
		return
	}

	scanner := bufio.NewScanner(c)
	scanner.Buffer(make([]byte, 0, 64*1024), proto.MaxFrameSize+1)
	scanner.Split(proto.SplitFrames)
	for scanner.Scan() {
		frame := scanner.Bytes()
		if len(frame) == 0 {
			continue
		}
		if !s.serve(t.responder, frame) {
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Warn("Connection error", "addr", ip, "error", err)
	}
}

func (t *TCPServer) Shutdown() error {
	slog.Info("Shutting down tcp device server", "addr", t.Addr)
	t.mu.Lock()
	l := t.listener
	t.mu.Unlock()
	var err error
	if l != nil {
		err = l.Close()
	}
	t.sessions.closeAll()
	return err
}

func (t *TCPServer) Meta() TransportMetadata {
	t.mu.Lock()
	defer t.mu.Unlock()
	addr := t.Addr
	if t.listener != nil {
		addr = t.listener.Addr().String()
	}
	return TransportMetadata{
		ID:         "tcp-" + addr,
		Protocol:   "tcp",
		Address:    addr,
		Clients:    t.sessions.len(),
		MaxClients: t.sessions.max,
		Connected:  t.connected,
	}
}
