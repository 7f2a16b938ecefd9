package server

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/mbocsi/gotadek/proto"
)

// Responder produces the device side of the conversation.
type Responder interface {
	Greeting() proto.Message
	Respond(req proto.Message) proto.Message
}

// Transport accepts client connections for a stub device.
type Transport interface {
	Start() error
	Shutdown() error
	Meta() TransportMetadata
}

type TransportMetadata struct {
	ID         string
	Protocol   string
	Address    string
	Clients    int
	MaxClients int
	Connected  bool
}

// session is one accepted client connection.
type session struct {
	Id     string
	Remote string
	send   func(frame []byte) error
	close  func() error
}

func newSession(remote string, send func([]byte) error, close func() error) *session {
	return &session{Id: uuid.New().String(), Remote: remote, send: send, close: close}
}

// greet sends the system info a device announces on accept.
func (s *session) greet(r Responder) error {
	frame, err := proto.EncodeMessage(r.Greeting())
	if err != nil {
		return err
	}
	return s.send(frame)
}

// serve answers one frame. A frame that does not decode ends the session.
func (s *session) serve(r Responder, frame []byte) bool {
	msg, err := proto.DecodeFrame(frame)
	if err != nil {
		slog.Warn("Invalid frame received", "session", s.Id, "error", err, "size", len(frame))
		return false
	}
	slog.Debug("Request received", "session", s.Id, "id", msg.ID, "target", msg.Target, "name", msg.Name)

	reply, err := proto.EncodeMessage(r.Respond(msg))
	if err != nil {
		slog.Error("Failed to encode reply", "session", s.Id, "id", msg.ID, "error", err)
		return false
	}
	if err := s.send(reply); err != nil {
		slog.Warn("Failed to send reply", "session", s.Id, "error", err)
		return false
	}
	return true
}

// sessions tracks the live sessions of a transport.
type sessions struct {
	mu  sync.RWMutex
	all map[string]*session
	max int
}

func newSessions(max int) *sessions {
	return &sessions{all: make(map[string]*session), max: max}
}

func (ss *sessions) add(s *session) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if len(ss.all) >= ss.max {
		return false
	}
	ss.all[s.Id] = s
	return true
}

func (ss *sessions) remove(s *session) {
	ss.mu.Lock()
	delete(ss.all, s.Id)
	ss.mu.Unlock()
}

func (ss *sessions) len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.all)
}

func (ss *sessions) closeAll() {
	ss.mu.RLock()
	open := make([]*session, 0, len(ss.all))
	for _, s := range ss.all {
		open = append(open, s)
	}
	ss.mu.RUnlock()
	for _, s := range open {
		s.close()
	}
}
