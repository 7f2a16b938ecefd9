package device

import "github.com/mbocsi/gotadek/proto"

type EventKind string

const (
	Connected        EventKind = "connected"
	Disconnected     EventKind = "disconnected"
	RequestSent      EventKind = "requestSent"
	ResponseReceived EventKind = "responseReceived"
	ErrorOccurred    EventKind = "errorOccurred"
)

type Event struct {
	Kind   EventKind   `json:"kind"`
	Device string      `json:"device"`
	ID     proto.MsgID `json:"id,omitempty"`
	Lost   bool        `json:"lost,omitempty"` // Disconnected after the connection broke
	Error  string      `json:"error,omitempty"`
}

// Observer receives every event of a device.
type Observer interface {
	HandleEvent(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) HandleEvent(ev Event) { f(ev) }
