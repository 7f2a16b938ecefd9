package device

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mbocsi/gotadek/transport"
)

const (
	ProtocolTCP       = "tcp"
	ProtocolWebSocket = "ws"
	ProtocolOffline   = "offline"
)

const DefaultPort = 8089

// Config identifies a device. Name is unique within a registry.
type Config struct {
	Name        string            `yaml:"name" json:"name"`
	Address     string            `yaml:"address,omitempty" json:"address,omitempty"`
	Port        int               `yaml:"port,omitempty" json:"port,omitempty"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Protocol    string            `yaml:"protocol,omitempty" json:"protocol,omitempty"`
	File        string            `yaml:"file,omitempty" json:"file,omitempty"`
	Params      map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("device name is required")
	}
	switch c.protocol() {
	case ProtocolTCP, ProtocolWebSocket:
		if c.Address == "" {
			return fmt.Errorf("device %q: address is required", c.Name)
		}
		if c.Port < 0 || c.Port > 65535 {
			return fmt.Errorf("device %q: invalid port %d", c.Name, c.Port)
		}
	case ProtocolOffline:
		if c.File == "" {
			return fmt.Errorf("device %q: dump file is required", c.Name)
		}
	default:
		return fmt.Errorf("device %q: unknown protocol %q", c.Name, c.Protocol)
	}
	return nil
}

func (c Config) protocol() string {
	if c.Protocol == "" {
		return ProtocolTCP
	}
	return strings.ToLower(c.Protocol)
}

// Endpoint is host:port for network devices and the dump path for offline
// ones.
func (c Config) Endpoint() string {
	if c.protocol() == ProtocolOffline {
		return c.File
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Address, strconv.Itoa(port))
}

func (c Config) Offline() bool {
	return c.protocol() == ProtocolOffline
}

func (c Config) Autoconnect() bool {
	v, err := strconv.ParseBool(c.Params["autoconnect"])
	return err == nil && v
}

// SameEndpoint reports whether both configs reach the same device.
func (c Config) SameEndpoint(o Config) bool {
	return c.protocol() == o.protocol() && c.Endpoint() == o.Endpoint()
}

// NewTransport builds the transport matching the configured protocol.
func (c Config) NewTransport(timeout time.Duration) (transport.Transport, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.protocol() {
	case ProtocolWebSocket:
		return transport.NewWebSocketTransport(c.Endpoint(), timeout)
	case ProtocolOffline:
		return transport.NewOfflineTransport(c.File), nil
	default:
		return transport.NewTCPTransport(c.Endpoint(), timeout), nil
	}
}
