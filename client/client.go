package client

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/mbocsi/gotadek/proto"
	"github.com/mbocsi/gotadek/queue"
	"github.com/mbocsi/gotadek/transport"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Client correlates requests and responses over one transport. A receive
// goroutine decodes incoming frames and puts their ids on the Messages
// queue; the consumer pops them and fetches payloads with Response.
type Client struct {
	transport transport.Transport
	messages  *queue.Queue
	pending   *PendingTable

	connMu sync.Mutex // serializes Connect and Disconnect

	mu      sync.Mutex
	state   State
	nextID  proto.MsgID
	err     error
	info    *proto.SystemInfo
	closing bool
	done    chan struct{}
}

func New(t transport.Transport) *Client {
	return &Client{
		transport: t,
		messages:  queue.New(),
		pending:   NewPendingTable(),
	}
}

func (c *Client) Messages() *queue.Queue {
	return c.messages
}

func (c *Client) Meta() transport.Metadata {
	return c.transport.Meta()
}

// Connect opens the transport. It succeeds without doing anything if the
// client is already connected. Request ids restart at 1.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.Lock()
	if c.state == Connected {
		c.mu.Unlock()
		return nil
	}
	prev := c.done
	c.state = Connecting
	c.mu.Unlock()

	// A receive goroutine of a lost connection may still be finishing.
	if prev != nil {
		<-prev
	}

	addr := c.transport.Meta().Address
	slog.Info("Connecting to device", "addr", addr, "protocol", c.transport.Meta().Protocol)
	if err := c.transport.Open(ctx); err != nil {
		c.setState(Disconnected)
		if !transport.IsConnectionError(err) {
			err = &transport.ConnectionError{Op: "open", Addr: addr, Err: err}
		}
		return err
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.state = Connected
	c.nextID = proto.DefaultMsgID
	c.err = nil
	c.info = nil
	c.closing = false
	c.done = done
	c.mu.Unlock()

	go c.receive(done)
	slog.Info("Connected to device", "addr", addr)
	return nil
}

// Disconnect closes the connection and discards every pending request and
// every id still queued. It reports whether the client was connected.
func (c *Client) Disconnect() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.Lock()
	wasConnected := c.state == Connected
	done := c.done
	if wasConnected {
		c.closing = true
		c.state = Disconnected
	}
	c.mu.Unlock()

	if wasConnected {
		if err := c.transport.Close(); err != nil {
			slog.Warn("Error closing transport", "addr", c.transport.Meta().Address, "error", err)
		}
		<-done
		slog.Info("Disconnected from device", "addr", c.transport.Meta().Address)
	}

	if n := c.pending.Discard(); n > 0 {
		slog.Debug("Discarded pending requests", "count", n)
	}
	for {
		if _, err := c.messages.Pop(); err != nil {
			break
		}
	}
	return wasConnected
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// Send transmits a request and returns its id. The id is never at or below
// proto.DefaultMsgID; on failure DefaultMsgID is returned.
func (c *Client) Send(req proto.Request) (proto.MsgID, error) {
	op := req.Operation()

	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return proto.DefaultMsgID, &transport.ConnectionError{Op: "send", Addr: c.transport.Meta().Address, Err: ErrNotConnected}
	}
	c.nextID++
	id := c.nextID
	// Registered before unlocking so a reconnect cannot slip in between.
	err := c.pending.Register(id, op)
	c.mu.Unlock()
	if err != nil {
		return proto.DefaultMsgID, &Error{Op: op, Err: err}
	}

	frame, err := proto.EncodeRequest(op, id, req.Params())
	if err != nil {
		c.pending.Release(id)
		return proto.DefaultMsgID, &Error{Op: op, Err: err}
	}
	if err := c.transport.Send(frame); err != nil {
		c.pending.Release(id)
		if transport.IsConnectionError(err) {
			return proto.DefaultMsgID, err
		}
		return proto.DefaultMsgID, &Error{Op: op, Err: err}
	}

	slog.Debug("Sent request", "id", id, "operation", op)
	return id, nil
}

// Response returns the response to id and forgets the request.
func (c *Client) Response(id proto.MsgID) (proto.Message, error) {
	msg, ok := c.pending.Take(id)
	if !ok {
		return proto.Message{}, ErrNoResponse
	}
	return msg, nil
}

// HasResponse reports whether a response for id is waiting to be fetched.
func (c *Client) HasResponse(id proto.MsgID) bool {
	return c.pending.Answered(id)
}

func (c *Client) PendingCount() int {
	return c.pending.Len()
}

// Error returns the last asynchronous error, if any.
func (c *Client) Error() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Info returns the system information the device sent on connect.
func (c *Client) Info() *proto.SystemInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info == nil {
		return nil
	}
	info := *c.info
	return &info
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) receive(done chan struct{}) {
	defer close(done)
	addr := c.transport.Meta().Address

	for {
		frame, err := c.transport.ReceiveFrame()
		if err != nil {
			if errors.Is(err, proto.ErrFrameTooLarge) {
				err = &proto.CodecError{Reason: "oversized frame", Err: err}
			}
			c.lost(err)
			return
		}

		msg, err := proto.DecodeFrame(frame)
		if err != nil {
			slog.Warn("Discarding malformed frame", "addr", addr, "error", err, "size", len(frame))
			c.lost(err)
			return
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg proto.Message) {
	id := msg.MsgID()
	slog.Debug("Message received", "type", msg.Type, "target", msg.Target, "name", msg.Name, "id", id)

	switch msg.Type {
	case proto.TypeError:
		remote := &RemoteError{ID: id, Message: msg.Error}
		if id > proto.DefaultMsgID && c.pending.Release(id) {
			slog.Debug("Dropped pending request failed by device", "id", id)
		}
		c.mu.Lock()
		c.err = remote
		c.mu.Unlock()
		slog.Warn("Device reported an error", "addr", c.transport.Meta().Address, "error", remote)
		c.messages.Put(proto.ErrorMsgID)

	case proto.TypeResponse:
		if id == proto.DefaultMsgID {
			c.storeInfo(msg)
			return
		}
		if !c.pending.Resolve(id, msg) {
			slog.Warn("Dropping response for unknown request", "id", id, "target", msg.Target, "name", msg.Name)
			return
		}
		c.messages.Put(id)

	case proto.TypeNotification:
		c.storeInfo(msg)

	default:
		slog.Warn("Unhandled message", "type", msg.Type, "id", id)
	}
}

func (c *Client) storeInfo(msg proto.Message) {
	if msg.Target != proto.TargetSystem || msg.Name != proto.NameInfo || msg.Info == nil {
		slog.Debug("Ignoring message without request id", "type", msg.Type, "target", msg.Target, "name", msg.Name)
		return
	}
	info := *msg.Info
	c.mu.Lock()
	c.info = &info
	c.mu.Unlock()
	slog.Info("Device info received", "version", info.Version, "locale", info.Locale, "extensions", len(info.Extensions))
}

// lost handles a receive failure. Failures caused by a local Disconnect are
// expected and ignored.
func (c *Client) lost(cause error) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	addr := c.transport.Meta().Address
	lostErr := &ConnectionLostError{Addr: addr, Err: cause}
	c.err = lostErr
	c.state = Disconnected
	c.mu.Unlock()

	slog.Error("Connection lost", "addr", addr, "error", cause)
	if err := c.transport.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		slog.Debug("Error closing lost transport", "addr", addr, "error", err)
	}
	c.pending.Discard()
	c.messages.Put(proto.ErrorMsgID)
}
