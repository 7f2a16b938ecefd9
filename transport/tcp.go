package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mbocsi/gotadek/proto"
)

type TCPTransport struct {
	Addr    string
	Timeout time.Duration

	mu      sync.Mutex
	conn    net.Conn
	scanner *bufio.Scanner
	writeMu sync.Mutex
}

func NewTCPTransport(addr string, timeout time.Duration) *TCPTransport {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &TCPTransport{Addr: addr, Timeout: timeout}
}

func (t *TCPTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return &ConnectionError{Op: "dial", Addr: t.Addr, Err: err}
	}
	slog.Debug("Opened tcp connection", "addr", t.Addr, "local", conn.LocalAddr().String())

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), proto.MaxFrameSize+1)
	scanner.Split(proto.SplitFrames)

	t.conn = conn
	t.scanner = scanner
	return nil
}

func (t *TCPTransport) Send(frame []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return &ConnectionError{Op: "send", Addr: t.Addr, Err: ErrClosed}
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err := conn.Write(proto.AppendTerminator(frame))
	return err
}

// ReceiveFrame blocks until a whole frame has arrived. Empty frames are
// skipped. It must be called from a single goroutine.
func (t *TCPTransport) ReceiveFrame() ([]byte, error) {
	t.mu.Lock()
	scanner := t.scanner
	t.mu.Unlock()
	if scanner == nil {
		return nil, ErrClosed
	}

	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		return bytes.Clone(scanner.Bytes()), nil
	}
	err := scanner.Err()
	if err == nil {
		return nil, io.EOF
	}
	if errors.Is(err, bufio.ErrTooLong) {
		return nil, proto.ErrFrameTooLarge
	}
	return nil, err
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	slog.Debug("Closing tcp connection", "addr", t.Addr)
	err := t.conn.Close()
	t.conn = nil
	t.scanner = nil
	return err
}

func (t *TCPTransport) Meta() Metadata {
	return Metadata{Protocol: "tcp", Address: t.Addr}
}
