package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
	"github.com/mbocsi/gotadek/device"
)

func TestInstanceName(t *testing.T) {
	cases := map[string]string{
		`lab\ box._tadek._tcp.local.`: "lab box",
		"desk._tadek-ws._tcp.local.":  "desk._tadek-ws._tcp.local",
		"plain":                       "plain",
	}
	for full, want := range cases {
		if got := instanceName(full, ServiceTCP); got != want {
			t.Errorf("instanceName(%q): expected %q, got %q", full, want, got)
		}
	}
}

func TestFromServiceEntry(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:       "desk._tadek._tcp.local.",
		Host:       "desk.local.",
		AddrV4:     net.ParseIP("192.168.1.20"),
		Port:       8089,
		InfoFields: []string{"description=front desk", "autoconnect=true", "junk"},
	}

	e, ok := fromServiceEntry(entry, ServiceTCP, device.ProtocolTCP)
	if !ok {
		t.Fatal("Expected entry with address to be accepted")
	}
	if e.Name != "desk" || e.Host != "desk.local" || e.Address != "192.168.1.20" {
		t.Errorf("Unexpected entry: %+v", e)
	}

	cfg := e.Config()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
	if cfg.Description != "front desk" || !cfg.Autoconnect() || len(cfg.Params) != 1 {
		t.Errorf("Unexpected config: %+v", cfg)
	}

	if _, ok := fromServiceEntry(&mdns.ServiceEntry{Name: "x"}, ServiceTCP, device.ProtocolTCP); ok {
		t.Error("Expected entry without address to be rejected")
	}
}

func TestDedupe(t *testing.T) {
	entries := []Entry{
		{Name: "a", Address: "1.1.1.1", Port: 1},
		{Name: "a", Address: "1.1.1.1", Port: 1},
		{Name: "a", Address: "1.1.1.1", Port: 2},
	}
	if got := dedupe(entries); len(got) != 2 {
		t.Errorf("Expected 2 unique entries, got %d", len(got))
	}
}
