package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbocsi/gotadek/broker"
	"github.com/mbocsi/gotadek/device"
	"github.com/mbocsi/gotadek/loop"
	"github.com/mbocsi/gotadek/registry"
	"github.com/mbocsi/gotadek/transport"
)

// Service is an outer surface run alongside the app, such as the HTTP API
// or the MCP server.
type Service interface {
	Start() error
	Shutdown() error
}

type Options struct {
	Store          registry.Store // Optional; devices are not persisted if nil
	Registry       *registry.Registry
	Loop           *loop.Loop
	ConnectTimeout time.Duration
}

// App manages the configured devices: it owns the registry and the event
// loop, forwards device events with the device's identity and records
// connection errors.
type App struct {
	Registry *registry.Registry
	Loop     *loop.Loop
	Events   *broker.Broker[Event]

	store   registry.Store
	timeout time.Duration

	mu     sync.Mutex
	tokens map[string]string // Map device name to its observer token
	errors map[string]error  // Map device name to its last connection error
}

func New(opts Options) *App {
	if opts.Registry == nil {
		opts.Registry = registry.New()
	}
	if opts.Loop == nil {
		opts.Loop = loop.New()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = transport.DefaultConnectTimeout
	}
	return &App{
		Registry: opts.Registry,
		Loop:     opts.Loop,
		Events:   broker.New[Event](),
		store:    opts.Store,
		timeout:  opts.ConnectTimeout,
		tokens:   make(map[string]string),
		errors:   make(map[string]error),
	}
}

// Load registers every device of the store.
func (a *App) Load() error {
	if a.store == nil {
		return nil
	}
	configs, err := a.store.Load()
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		if _, err := a.register(cfg); err != nil {
			return err
		}
	}
	slog.Info("Loaded devices", "count", len(configs))
	return nil
}

// FirstRun connects the devices configured to connect automatically.
func (a *App) FirstRun(ctx context.Context) error {
	var errs []error
	for _, dev := range a.Registry.List() {
		if !dev.Config().Autoconnect() {
			continue
		}
		if err := a.connect(ctx, dev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) AddDevice(cfg device.Config) (*device.Device, error) {
	dev, err := a.register(cfg)
	if err != nil {
		return nil, err
	}
	a.publish(Event{Kind: DeviceAdded, Device: cfg.Name, Address: cfg.Endpoint()})
	return dev, a.save()
}

// UpdateDevice changes the configuration of the device registered as name.
// A new name or endpoint replaces the device, dropping its connection.
func (a *App) UpdateDevice(name string, cfg device.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	old, ok := a.Registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %q", registry.ErrNotFound, name)
	}

	if cfg.Name == name && cfg.SameEndpoint(old.Config()) {
		old.SetDetails(cfg.Description, cfg.Params)
	} else {
		if cfg.Name != name {
			if _, taken := a.Registry.Get(cfg.Name); taken {
				return fmt.Errorf("%w: %q", registry.ErrNameInUse, cfg.Name)
			}
		}
		dev, err := device.Open(cfg, a.Loop, a.timeout)
		if err != nil {
			return err
		}
		old.DisconnectDevice()
		if err := a.Registry.Replace(name, dev); err != nil {
			return err
		}
		a.unobserve(name, old)
		a.observe(dev)
		slog.Info("Replaced device", "old", name, "name", cfg.Name, "endpoint", cfg.Endpoint())
	}

	a.publish(Event{Kind: DeviceUpdated, Device: cfg.Name, Address: cfg.Endpoint()})
	return a.save()
}

func (a *App) RemoveDevice(name string) error {
	dev, err := a.Registry.Remove(name)
	if err != nil {
		return err
	}
	dev.DisconnectDevice()
	a.unobserve(name, dev)
	a.publish(Event{Kind: DeviceRemoved, Device: name, Address: dev.Config().Endpoint()})
	return a.save()
}

func (a *App) Device(name string) (*device.Device, error) {
	dev, ok := a.Registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", registry.ErrNotFound, name)
	}
	return dev, nil
}

func (a *App) ConnectDevice(ctx context.Context, name string) error {
	dev, err := a.Device(name)
	if err != nil {
		return err
	}
	return a.connect(ctx, dev)
}

func (a *App) DisconnectDevice(name string) error {
	dev, err := a.Device(name)
	if err != nil {
		return err
	}
	dev.DisconnectDevice()
	return nil
}

// ConnectAll connects every disconnected device and joins the failures.
func (a *App) ConnectAll(ctx context.Context) error {
	var errs []error
	for _, dev := range a.Registry.List() {
		if dev.IsConnected() {
			continue
		}
		if err := a.connect(ctx, dev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) DisconnectAll() {
	for _, dev := range a.Registry.List() {
		if dev.IsConnected() {
			dev.DisconnectDevice()
		}
	}
}

// LastError returns the last connection error recorded for the device.
func (a *App) LastError(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.errors[name]
}

// Start runs the event loop and services until ctx is done, then shuts
// the services down and disconnects every device.
func (a *App) Start(ctx context.Context, services ...Service) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		a.Loop.Run(loopCtx)
	}()

	for _, s := range services {
		go func(s Service) {
			if err := s.Start(); err != nil {
				slog.Error("Service stopped", "error", err)
			}
		}(s)
	}

	<-ctx.Done()
	slog.Info("Shutting down services and devices")

	for _, s := range services {
		if err := s.Shutdown(); err != nil {
			slog.Error("There was an error when shutting down a service", "error", err.Error())
		}
	}
	a.DisconnectAll()

	cancel()
	<-loopDone
	// Deliver what is left (disconnections) now that Run has returned.
	a.Loop.ProcessEvents()
	return nil
}

func (a *App) connect(ctx context.Context, dev *device.Device) error {
	err := dev.ConnectDevice(ctx)
	a.mu.Lock()
	if err != nil {
		a.errors[dev.Name()] = err
	} else {
		delete(a.errors, dev.Name())
	}
	a.mu.Unlock()
	if err != nil {
		return fmt.Errorf("connect %s: %w", dev.Name(), err)
	}
	return nil
}

func (a *App) register(cfg device.Config) (*device.Device, error) {
	if _, exists := a.Registry.Get(cfg.Name); exists {
		return nil, fmt.Errorf("%w: %q", registry.ErrNameInUse, cfg.Name)
	}
	dev, err := device.Open(cfg, a.Loop, a.timeout)
	if err != nil {
		return nil, err
	}
	if err := a.Registry.Add(dev); err != nil {
		return nil, err
	}
	a.observe(dev)
	slog.Info("Registered device", "name", cfg.Name, "endpoint", cfg.Endpoint())
	return dev, nil
}

func (a *App) save() error {
	if a.store == nil {
		return nil
	}
	return a.store.Save(a.Registry.Configs())
}

func (a *App) observe(dev *device.Device) {
	token := dev.Observe(device.ObserverFunc(func(ev device.Event) { a.forward(dev, ev) }))
	a.mu.Lock()
	a.tokens[dev.Name()] = token
	a.mu.Unlock()
}

// unobserve stops forwarding events of dev once the events it already
// posted have been delivered.
func (a *App) unobserve(name string, dev *device.Device) {
	a.mu.Lock()
	token, ok := a.tokens[name]
	delete(a.tokens, name)
	delete(a.errors, name)
	a.mu.Unlock()
	if ok {
		a.Loop.Post(func() { dev.Unsubscribe(token) })
	}
}

// forward runs on the loop for every device event.
func (a *App) forward(dev *device.Device, ev device.Event) {
	out := Event{
		Kind:    ev.Kind,
		Device:  ev.Device,
		Address: dev.Config().Endpoint(),
		ID:      ev.ID,
		Error:   ev.Error,
	}

	switch ev.Kind {
	case device.Connected:
		slog.Info("Device connected", "device", ev.Device, "address", out.Address)
	case device.Disconnected:
		out.WithError = ev.Lost
		slog.Info("Device disconnected", "device", ev.Device, "address", out.Address, "with_error", ev.Lost)
	case device.ErrorOccurred:
		if err := dev.GetError(); err != nil {
			a.mu.Lock()
			a.errors[ev.Device] = err
			a.mu.Unlock()
		}
		slog.Warn("Device error", "device", ev.Device, "error", ev.Error)
	}
	a.Events.Publish(string(out.Kind), out)
}

// publish delivers app-level events on the loop, after any device events
// already queued.
func (a *App) publish(ev Event) {
	a.Loop.Post(func() { a.Events.Publish(string(ev.Kind), ev) })
}
