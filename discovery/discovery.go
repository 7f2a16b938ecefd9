package discovery

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/mbocsi/gotadek/device"
)

const (
	ServiceTCP       = "_tadek._tcp"
	ServiceWebSocket = "_tadek-ws._tcp"
)

// Entry is a device advertised over mDNS.
type Entry struct {
	Name     string
	Host     string
	Address  string
	Port     int
	Protocol string // device.ProtocolTCP or device.ProtocolWebSocket
	Info     []string
}

// Config turns the entry into a device configuration. TXT records of the
// form key=value become params; "description" fills the description.
func (e Entry) Config() device.Config {
	cfg := device.Config{
		Name:     e.Name,
		Address:  e.Address,
		Port:     e.Port,
		Protocol: e.Protocol,
	}
	for _, field := range e.Info {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		if key == "description" {
			cfg.Description = value
			continue
		}
		if cfg.Params == nil {
			cfg.Params = make(map[string]string)
		}
		cfg.Params[key] = value
	}
	return cfg
}

// Discover collects every entry of service answering within timeout.
func Discover(service string, timeout time.Duration) ([]Entry, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	protocol := device.ProtocolTCP
	if service == ServiceWebSocket {
		protocol = device.ProtocolWebSocket
	}

	entriesCh := make(chan *mdns.ServiceEntry, 16)
	var entries []Entry
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for entry := range entriesCh {
			e, ok := fromServiceEntry(entry, service, protocol)
			if !ok {
				slog.Debug("Ignoring mDNS entry without address", "name", entry.Name)
				continue
			}
			slog.Info("Discovered device",
				"name", e.Name,
				"address", e.Address,
				"port", e.Port,
				"protocol", e.Protocol,
			)
			entries = append(entries, e)
		}
	}()

	params := mdns.DefaultParams(service)
	params.Entries = entriesCh
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entriesCh)
	<-collected
	if err != nil {
		return nil, fmt.Errorf("mDNS discovery for %s: %w", service, err)
	}
	return dedupe(entries), nil
}

// DiscoverAll looks up devices over both TCP and WebSocket.
func DiscoverAll(timeout time.Duration) ([]Entry, error) {
	var all []Entry
	for _, service := range []string{ServiceTCP, ServiceWebSocket} {
		entries, err := Discover(service, timeout)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

// Advertise announces a device endpoint until the returned server is shut
// down.
func Advertise(instance, service string, port int, info []string) (*mdns.Server, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, err
		}
		instance = host
	}
	zone, err := mdns.NewMDNSService(instance, service, "", "", port, nil, info)
	if err != nil {
		return nil, fmt.Errorf("mDNS service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: zone})
	if err != nil {
		return nil, fmt.Errorf("mDNS server: %w", err)
	}
	slog.Info("Advertising device", "instance", instance, "service", service, "port", port)
	return server, nil
}

func fromServiceEntry(entry *mdns.ServiceEntry, service, protocol string) (Entry, bool) {
	var address string
	if entry.AddrV4 != nil {
		address = entry.AddrV4.String()
	} else if entry.AddrV6 != nil {
		address = entry.AddrV6.String()
	} else {
		return Entry{}, false
	}
	return Entry{
		Name:     instanceName(entry.Name, service),
		Host:     strings.TrimSuffix(entry.Host, "."),
		Address:  address,
		Port:     entry.Port,
		Protocol: protocol,
		Info:     entry.InfoFields,
	}, true
}

// instanceName strips the service and domain from a full mDNS name, so
// "lab\ box._tadek._tcp.local." becomes "lab box".
func instanceName(full, service string) string {
	name := strings.TrimSuffix(full, ".")
	if i := strings.Index(name, "."+service); i > 0 {
		name = name[:i]
	}
	return strings.ReplaceAll(name, `\ `, " ")
}

func dedupe(entries []Entry) []Entry {
	seen := make(map[string]bool, len(entries))
	out := entries[:0]
	for _, e := range entries {
		key := fmt.Sprintf("%s|%s|%d", e.Name, e.Address, e.Port)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}
