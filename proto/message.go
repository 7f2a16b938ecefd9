package proto

import (
	"encoding/xml"
	"strconv"
)

// MsgID identifies a message within one connection. Ordinary request ids
// are always greater than DefaultMsgID.
type MsgID int64

const (
	DefaultMsgID MsgID = 0  // no real id; floor of request ids
	ErrorMsgID   MsgID = -1 // asynchronous error, not tied to a response
)

const (
	TypeRequest      = "request"
	TypeResponse     = "response"
	TypeError        = "error"
	TypeNotification = "notification"
)

const (
	TargetSystem        = "system"
	TargetAccessibility = "accessibility"
	TargetInput         = "input"
)

const (
	NameInfo     = "info"
	NameExec     = "exec"
	NameGet      = "get"
	NameSet      = "set"
	NameDo       = "do"
	NameMouse    = "mouse"
	NameKeyboard = "keyboard"
)

var validTypes = map[string]bool{
	TypeRequest:      true,
	TypeResponse:     true,
	TypeError:        true,
	TypeNotification: true,
}

type Message struct {
	XMLName xml.Name `xml:"message"`
	Type    string   `xml:"type,attr"`
	Target  string   `xml:"target,attr"`
	Name    string   `xml:"name,attr"`
	ID      uint64   `xml:"id,attr"`
	Status  bool     `xml:"status,attr,omitempty"`

	Params     []Param     `xml:"param,omitempty"`
	Accessible *Accessible `xml:"accessible,omitempty"`
	Info       *SystemInfo `xml:"info,omitempty"`
	Exec       *ExecResult `xml:"exec,omitempty"`
	Error      string      `xml:"error,omitempty"`
}

// Param is one named request argument. Order is preserved on the wire.
type Param struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type SystemInfo struct {
	Version    string   `xml:"version,attr"`
	Locale     string   `xml:"locale,attr,omitempty"`
	Extensions []string `xml:"extension,omitempty"`
}

type ExecResult struct {
	Code   int    `xml:"code,attr"`
	Stdout string `xml:"stdout,omitempty"`
	Stderr string `xml:"stderr,omitempty"`
}

// MsgID returns the id as seen by the queue and the pending table.
func (m Message) MsgID() MsgID {
	return MsgID(m.ID)
}

// Param returns the value of the named parameter.
func (m Message) Param(name string) (string, bool) {
	for _, p := range m.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

func (m Message) IntParam(name string, def int) int {
	v, ok := m.Param(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (m Message) BoolParam(name string, def bool) bool {
	v, ok := m.Param(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// NewResponse builds the response envelope matching a request.
func NewResponse(req Message, status bool) Message {
	return Message{
		Type:   TypeResponse,
		Target: req.Target,
		Name:   req.Name,
		ID:     req.ID,
		Status: status,
	}
}

// NewInfo builds the greeting a device sends right after accepting a
// connection.
func NewInfo(version, locale string, extensions ...string) Message {
	return Message{
		Type:   TypeResponse,
		Target: TargetSystem,
		Name:   NameInfo,
		ID:     uint64(DefaultMsgID),
		Status: true,
		Info:   &SystemInfo{Version: version, Locale: locale, Extensions: extensions},
	}
}
