package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/hashicorp/mdns"
	"github.com/mbocsi/gotadek/discovery"
	"github.com/mbocsi/gotadek/proto"
	"github.com/mbocsi/gotadek/replay"
	"golang.org/x/sync/errgroup"
)

type StubOptions struct {
	Dump      string // Path of the accessibility dump to serve
	Mutable   bool   // Apply set and do requests to the served tree
	TCPAddr   string // Optional; no TCP endpoint if empty
	WSAddr    string // Optional; no WebSocket endpoint if empty
	Advertise bool   // Announce the endpoints over mDNS
	Name      string // mDNS instance name; defaults to the hostname
}

// Stub is a stand-in device daemon answering from a dump. It lets the
// client be exercised without a real device.
type Stub struct {
	options    StubOptions
	responder  *replay.Responder
	device     string
	transports []Transport
	zones      []*mdns.Server
}

func NewStub(opts StubOptions) (*Stub, error) {
	if opts.TCPAddr == "" && opts.WSAddr == "" {
		return nil, errors.New("stub needs a TCP or WebSocket address")
	}
	f, err := os.Open(opts.Dump)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dump, err := proto.ReadDump(f)
	if err != nil {
		return nil, fmt.Errorf("read dump %s: %w", opts.Dump, err)
	}

	s := &Stub{
		options:   opts,
		responder: replay.NewResponder(dump, !opts.Mutable),
		device:    dump.Device,
	}
	if opts.TCPAddr != "" {
		s.transports = append(s.transports, NewTCPServer(opts.TCPAddr, s.responder))
	}
	if opts.WSAddr != "" {
		s.transports = append(s.transports, NewWSServer(opts.WSAddr, s.responder))
	}
	return s, nil
}

func (s *Stub) Transports() []Transport {
	return s.transports
}

func (s *Stub) Responder() *replay.Responder {
	return s.responder
}

func (s *Stub) Start() error {
	if s.options.Advertise {
		if err := s.advertise(); err != nil {
			return err
		}
	}

	var g errgroup.Group
	for _, t := range s.transports {
		g.Go(t.Start)
	}
	return g.Wait()
}

func (s *Stub) Shutdown() error {
	var errs []error
	for _, zone := range s.zones {
		if err := zone.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, t := range s.transports {
		if err := t.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Stub) advertise() error {
	info := []string{"description=stub of " + s.device}
	for _, t := range s.transports {
		var (
			addr    net.Addr
			err     error
			service string
		)
		switch t := t.(type) {
		case *TCPServer:
			addr, err = t.Listen()
			service = discovery.ServiceTCP
		case *WSServer:
			addr, err = t.Listen()
			service = discovery.ServiceWebSocket
		default:
			continue
		}
		if err != nil {
			return err
		}
		zone, err := discovery.Advertise(s.options.Name, service, addr.(*net.TCPAddr).Port, info)
		if err != nil {
			slog.Warn("Failed to advertise device", "service", service, "error", err)
			continue
		}
		s.zones = append(s.zones, zone)
	}
	return nil
}
