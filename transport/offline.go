package transport

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/mbocsi/gotadek/proto"
	"github.com/mbocsi/gotadek/replay"
)

// OfflineTransport replays a dump file instead of talking to a device.
// Send never touches the network: it answers the request from the dump
// and queues the response for ReceiveFrame, in request order.
type OfflineTransport struct {
	Path string

	mu        sync.Mutex
	cond      *sync.Cond
	responder *replay.Responder
	frames    [][]byte
	open      bool
}

func NewOfflineTransport(path string) *OfflineTransport {
	t := &OfflineTransport{Path: path}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *OfflineTransport) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &ConnectionError{Op: "open", Addr: t.Path, Err: err}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		return nil
	}

	f, err := os.Open(t.Path)
	if err != nil {
		return &ConnectionError{Op: "open", Addr: t.Path, Err: err}
	}
	defer f.Close()

	dump, err := proto.ReadDump(f)
	if err != nil {
		return &ConnectionError{Op: "open", Addr: t.Path, Err: err}
	}
	t.responder = replay.NewResponder(dump, true)

	greeting, err := proto.EncodeMessage(t.responder.Greeting())
	if err != nil {
		return &ConnectionError{Op: "open", Addr: t.Path, Err: err}
	}
	t.frames = [][]byte{greeting}
	t.open = true
	slog.Debug("Opened offline dump", "path", t.Path, "device", dump.Device)
	return nil
}

func (t *OfflineTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return &ConnectionError{Op: "send", Addr: t.Path, Err: ErrClosed}
	}

	req, err := proto.DecodeFrame(frame)
	if err != nil {
		return err
	}
	out, err := proto.EncodeMessage(t.responder.Respond(req))
	if err != nil {
		return fmt.Errorf("encode replayed response: %w", err)
	}
	t.frames = append(t.frames, out)
	t.cond.Signal()
	return nil
}

func (t *OfflineTransport) ReceiveFrame() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.open && len(t.frames) == 0 {
		t.cond.Wait()
	}
	if !t.open {
		return nil, ErrClosed
	}
	frame := t.frames[0]
	t.frames = t.frames[1:]
	return frame, nil
}

func (t *OfflineTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return nil
	}
	t.open = false
	t.frames = nil
	t.responder = nil
	t.cond.Broadcast()
	return nil
}

func (t *OfflineTransport) Meta() Metadata {
	return Metadata{Protocol: "offline", Address: t.Path}
}
