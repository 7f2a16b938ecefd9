package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/mbocsi/gotadek/device"
)

var (
	ErrNameInUse = errors.New("device name already in use")
	ErrNotFound  = errors.New("device not found")
)

// Registry owns the configured devices, keyed by their unique name.
type Registry struct {
	mu    sync.RWMutex
	store map[string]*device.Device
}

func New() *Registry {
	return &Registry{store: make(map[string]*device.Device)}
}

func (r *Registry) Add(dev *device.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.store[dev.Name()]; exists {
		return fmt.Errorf("%w: %q", ErrNameInUse, dev.Name())
	}
	r.store[dev.Name()] = dev
	return nil
}

func (r *Registry) Get(name string) (*device.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.store[name]
	return dev, ok
}

func (r *Registry) Remove(name string) (*device.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.store[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	delete(r.store, name)
	return dev, nil
}

// Replace swaps the device registered as name for dev, which may carry a
// new name.
func (r *Registry) Replace(name string, dev *device.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if dev.Name() != name {
		if _, exists := r.store[dev.Name()]; exists {
			return fmt.Errorf("%w: %q", ErrNameInUse, dev.Name())
		}
		delete(r.store, name)
	}
	r.store[dev.Name()] = dev
	return nil
}

// List returns the devices sorted by name.
func (r *Registry) List() []*device.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]*device.Device, 0, len(r.store))
	for _, dev := range r.store {
		devices = append(devices, dev)
	}
	slices.SortFunc(devices, func(a, b *device.Device) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return devices
}

func (r *Registry) Configs() []device.Config {
	devices := r.List()
	configs := make([]device.Config, len(devices))
	for i, dev := range devices {
		configs[i] = dev.Config()
	}
	return configs
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store)
}
