package app

import (
	"github.com/mbocsi/gotadek/device"
	"github.com/mbocsi/gotadek/proto"
)

const (
	DeviceAdded   device.EventKind = "deviceAdded"
	DeviceUpdated device.EventKind = "deviceUpdated"
	DeviceRemoved device.EventKind = "deviceRemoved"
)

// Event is a device event tagged with the device's identity, or a change
// to the set of configured devices.
type Event struct {
	Kind      device.EventKind `json:"kind"`
	Device    string           `json:"device"`
	Address   string           `json:"address,omitempty"`
	ID        proto.MsgID      `json:"id,omitempty"`
	WithError bool             `json:"withError,omitempty"`
	Error     string           `json:"error,omitempty"`
}
