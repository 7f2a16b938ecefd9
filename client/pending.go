package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/mbocsi/gotadek/proto"
)

type PendingRequest struct {
	ID        proto.MsgID
	Operation string
	IssuedAt  time.Time
	Response  *proto.Message
}

// PendingTable correlates outstanding request ids with their responses.
// An entry is created once by Register and removed once by Take, Release
// or Discard.
type PendingTable struct {
	mu      sync.RWMutex
	entries map[proto.MsgID]*PendingRequest
}

func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[proto.MsgID]*PendingRequest)}
}

func (p *PendingTable) Register(id proto.MsgID, operation string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[id]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	p.entries[id] = &PendingRequest{ID: id, Operation: operation, IssuedAt: time.Now()}
	return nil
}

// Resolve stores the response for id. It returns false if id is unknown or
// was already answered.
func (p *PendingTable) Resolve(id proto.MsgID, msg proto.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[id]
	if !ok || entry.Response != nil {
		return false
	}
	entry.Response = &msg
	return true
}

// Take removes an answered entry and returns its response.
func (p *PendingTable) Take(id proto.MsgID) (proto.Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[id]
	if !ok || entry.Response == nil {
		return proto.Message{}, false
	}
	delete(p.entries, id)
	return *entry.Response, true
}

func (p *PendingTable) Answered(id proto.MsgID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.entries[id]
	return ok && entry.Response != nil
}

func (p *PendingTable) Get(id proto.MsgID) (PendingRequest, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.entries[id]
	if !ok {
		return PendingRequest{}, false
	}
	return *entry, true
}

// Release drops an entry whether or not it was answered.
func (p *PendingTable) Release(id proto.MsgID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[id]
	delete(p.entries, id)
	return ok
}

// Discard drops every entry and returns how many there were.
func (p *PendingTable) Discard() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.entries)
	p.entries = make(map[proto.MsgID]*PendingRequest)
	return n
}

func (p *PendingTable) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
