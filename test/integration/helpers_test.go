package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mbocsi/gotadek/app"
	"github.com/mbocsi/gotadek/broker"
	"github.com/mbocsi/gotadek/device"
	"github.com/mbocsi/gotadek/proto"
	"github.com/mbocsi/gotadek/server"
)

func writeDump(t *testing.T) string {
	t.Helper()
	label := "Save"
	root := proto.Accessible{Path: proto.Path{}, Name: "editor", Role: "application", Count: 2, Children: []proto.Accessible{
		{Path: proto.Path{0}, Index: 0, Name: "save", Role: "push button", Actions: []string{"click"}, Text: &label},
		{Path: proto.Path{1}, Index: 1, Name: "body", Role: "text"},
	}}
	path := filepath.Join(t.TempDir(), "editor.xml")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create dump: %v", err)
	}
	defer f.Close()
	if err := proto.WriteDump(f, proto.Dump{Device: "editor", Accessible: root}); err != nil {
		t.Fatalf("Failed to write dump: %v", err)
	}
	return path
}

// startStub runs a stub device on loopback ports and returns it with its
// bound addresses.
func startStub(t *testing.T, tcp, ws bool) (*server.Stub, map[string]string) {
	t.Helper()
	opts := server.StubOptions{Dump: writeDump(t), Mutable: true}
	if tcp {
		opts.TCPAddr = "127.0.0.1:0"
	}
	if ws {
		opts.WSAddr = "127.0.0.1:0"
	}
	stub, err := server.NewStub(opts)
	if err != nil {
		t.Fatalf("Failed to create stub: %v", err)
	}

	addrs := make(map[string]string)
	for _, tr := range stub.Transports() {
		switch tr := tr.(type) {
		case *server.TCPServer:
			addr, err := tr.Listen()
			if err != nil {
				t.Fatalf("Failed to listen: %v", err)
			}
			addrs[device.ProtocolTCP] = addr.String()
		case *server.WSServer:
			addr, err := tr.Listen()
			if err != nil {
				t.Fatalf("Failed to listen: %v", err)
			}
			addrs[device.ProtocolWebSocket] = addr.String()
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		stub.Start()
	}()
	t.Cleanup(func() {
		stub.Shutdown()
		<-done
	})
	return stub, addrs
}

func configFor(t *testing.T, name, protocol, addr string) device.Config {
	t.Helper()
	host, port := splitHostPort(t, addr)
	return device.Config{Name: name, Address: host, Port: port, Protocol: protocol}
}

func startApp(t *testing.T) (*app.App, chan app.Event) {
	t.Helper()
	a := app.New(app.Options{ConnectTimeout: time.Second})
	events := make(chan app.Event, 128)
	a.Events.SubscribeChan(broker.All, events)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return a, events
}

func expect(t *testing.T, events chan app.Event, kind device.EventKind, name string) app.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind && ev.Device == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for %s from %s", kind, name)
			return app.Event{}
		}
	}
}
