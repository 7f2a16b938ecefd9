package device

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mbocsi/gotadek/broker"
	"github.com/mbocsi/gotadek/client"
	"github.com/mbocsi/gotadek/loop"
	"github.com/mbocsi/gotadek/proto"
	"github.com/mbocsi/gotadek/queue"
	"github.com/mbocsi/gotadek/transport"
)

var ErrNoAccessible = errors.New("response carries no accessible")

// Device is the event-emitting façade over one client connection. Events
// are published on the loop, never on the caller's goroutine, so handlers
// of one device never run concurrently or nested.
type Device struct {
	cfg    Config
	client *client.Client
	loop   *loop.Loop
	events *broker.Broker[Event]

	connMu sync.Mutex // serializes connect, disconnect and loss handling

	mu        sync.Mutex
	connected bool
}

func New(cfg Config, t transport.Transport, l *loop.Loop) *Device {
	d := &Device{
		cfg:    cfg,
		client: client.New(t),
		loop:   l,
		events: broker.New[Event](),
	}
	q := d.client.Messages()
	q.OnNotEmpty(func(proto.MsgID) { d.loop.Post(d.drain) })
	q.OnAllDone(func(ev queue.DoneEvent) {
		slog.Debug("Messages processed", "device", d.cfg.Name, "id", ev.ID, "all", ev.All)
	})
	return d
}

// Open builds a device with the transport its config names.
func Open(cfg Config, l *loop.Loop, timeout time.Duration) (*Device, error) {
	t, err := cfg.NewTransport(timeout)
	if err != nil {
		return nil, err
	}
	return New(cfg, t, l), nil
}

func (d *Device) Name() string { return d.cfg.Name }

func (d *Device) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// SetDetails replaces the description and params. Identity and endpoint
// are fixed for the lifetime of a device.
func (d *Device) SetDetails(description string, params map[string]string) {
	d.mu.Lock()
	d.cfg.Description = description
	d.cfg.Params = params
	d.mu.Unlock()
}

func (d *Device) Subscribe(kind EventKind, fn func(Event)) string {
	return d.events.Subscribe(string(kind), fn)
}

// Observe subscribes o to every event kind.
func (d *Device) Observe(o Observer) string {
	return d.events.Subscribe(broker.All, o.HandleEvent)
}

func (d *Device) Unsubscribe(token string) bool {
	return d.events.Unsubscribe(token)
}

// ConnectDevice connects the client. Connected is emitted only when the
// device was not already connected.
func (d *Device) ConnectDevice(ctx context.Context) error {
	d.connMu.Lock()
	defer d.connMu.Unlock()

	// The connection dropped but the loop has not handled it yet.
	if d.IsConnected() && !d.client.IsConnected() {
		d.lose(d.client.Error())
	}

	if err := d.client.Connect(ctx); err != nil {
		slog.Error("Failed to connect device", "device", d.cfg.Name, "endpoint", d.cfg.Endpoint(), "error", err)
		return err
	}

	d.mu.Lock()
	changed := !d.connected
	d.connected = true
	d.mu.Unlock()

	if changed {
		d.emit(Event{Kind: Connected})
	}
	return nil
}

func (d *Device) DisconnectDevice() {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	d.disconnect(false)
}

// lose reports a dropped connection: errorOccurred, then a lost
// disconnection. Callers hold connMu.
func (d *Device) lose(err error) {
	ev := Event{Kind: ErrorOccurred}
	if err != nil {
		ev.Error = err.Error()
	}
	d.emit(ev)
	d.disconnect(true)
}

func (d *Device) disconnect(lost bool) {
	wasConnected := d.client.Disconnect()

	d.mu.Lock()
	believed := d.connected
	d.connected = false
	d.mu.Unlock()

	if wasConnected || believed {
		d.emit(Event{Kind: Disconnected, Lost: lost})
	}
	d.client.Messages().DoneAll()
}

// RequestDevice sends the named operation of the dispatch table. It returns
// proto.DefaultMsgID and the error when nothing was sent.
func (d *Device) RequestDevice(op string, args proto.Args) (proto.MsgID, error) {
	req, err := proto.ParseRequest(op, args)
	if err != nil {
		slog.Error("Invalid request", "device", d.cfg.Name, "operation", op, "error", err)
		return proto.DefaultMsgID, err
	}
	return d.Request(req)
}

func (d *Device) Request(req proto.Request) (proto.MsgID, error) {
	id, err := d.client.Send(req)
	if err != nil {
		slog.Error("Request failed", "device", d.cfg.Name, "operation", req.Operation(), "error", err)
		return proto.DefaultMsgID, err
	}
	d.emit(Event{Kind: RequestSent, ID: id})
	return id, nil
}

// GetResponse returns the response to id. A response can be fetched once.
func (d *Device) GetResponse(id proto.MsgID) (proto.Message, error) {
	return d.client.Response(id)
}

func (d *Device) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *Device) GetError() error {
	return d.client.Error()
}

func (d *Device) Info() *proto.SystemInfo {
	return d.client.Info()
}

// Dump writes the accessible carried by resp as a dump an offline device
// can replay.
func (d *Device) Dump(w io.Writer, resp proto.Message) error {
	if resp.Accessible == nil {
		return ErrNoAccessible
	}
	return proto.WriteDump(w, proto.Dump{
		Device:     d.cfg.Name,
		Info:       d.client.Info(),
		Accessible: *resp.Accessible,
	})
}

func (d *Device) emit(ev Event) {
	ev.Device = d.cfg.Name
	d.loop.Post(func() {
		d.events.Publish(string(ev.Kind), ev)
	})
}

// drain runs on the loop whenever the client queue becomes non-empty.
func (d *Device) drain() {
	q := d.client.Messages()
	for {
		id, err := q.Pop()
		if err != nil {
			return
		}
		d.dispatch(id)
		q.Done(id)
	}
}

func (d *Device) dispatch(id proto.MsgID) {
	switch {
	case id > proto.DefaultMsgID:
		if !d.client.HasResponse(id) {
			slog.Debug("Skipping response of a discarded request", "device", d.cfg.Name, "id", id)
			return
		}
		d.emit(Event{Kind: ResponseReceived, ID: id})

	case id == proto.ErrorMsgID:
		err := d.client.Error()
		if err == nil {
			slog.Debug("Skipping error cleared by a reconnect", "device", d.cfg.Name)
			return
		}
		if !d.IsConnected() {
			slog.Warn("Dropping error received while disconnected", "device", d.cfg.Name, "error", err)
			return
		}
		if client.IsConnectionLost(err) {
			d.connMu.Lock()
			defer d.connMu.Unlock()
			if !d.IsConnected() || d.client.IsConnected() {
				slog.Debug("Connection loss already handled", "device", d.cfg.Name, "error", err)
				return
			}
			d.lose(err)
			return
		}
		d.emit(Event{Kind: ErrorOccurred, Error: err.Error()})

	default:
		slog.Warn("Unexpected message id", "device", d.cfg.Name, "id", id)
	}
}
