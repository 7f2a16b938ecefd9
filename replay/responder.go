package replay

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/mbocsi/gotadek/proto"
)

// Responder answers requests from a captured accessibility tree. It is
// shared by the offline transport and the stub device daemon.
type Responder struct {
	mu       sync.Mutex
	root     proto.Accessible
	info     proto.SystemInfo
	readOnly bool
}

// NewResponder builds a responder over a copy of the dump's tree. A
// read-only responder refuses every request that would change the device.
func NewResponder(dump *proto.Dump, readOnly bool) *Responder {
	r := &Responder{
		root:     dump.Accessible.Trim(-1, true),
		info:     proto.SystemInfo{Version: "offline"},
		readOnly: readOnly,
	}
	if dump.Info != nil {
		r.info = *dump.Info
	}
	return r
}

// Greeting is the system info message a device sends on accept.
func (r *Responder) Greeting() proto.Message {
	return proto.NewInfo(r.info.Version, r.info.Locale, r.info.Extensions...)
}

func (r *Responder) Respond(req proto.Message) proto.Message {
	if req.Type != proto.TypeRequest {
		return errorReply(req, fmt.Sprintf("unexpected %s message", req.Type))
	}
	request, err := proto.RequestFromMessage(req)
	if err != nil {
		slog.Debug("Rejecting request", "target", req.Target, "name", req.Name, "error", err)
		return errorReply(req, err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	resp := proto.NewResponse(req, false)
	switch rq := request.(type) {
	case proto.AccessibleRequest:
		node, err := r.root.Find(rq.Path)
		if err != nil {
			return resp
		}
		acc := node.Trim(rq.Depth, rq.All)
		resp.Accessible = &acc
		resp.Status = true

	case proto.SetAccessibleRequest:
		node, err := r.root.Find(rq.Path)
		if err != nil || r.readOnly {
			return resp
		}
		if rq.Text != nil {
			if node.Text == nil {
				return resp
			}
			text := *rq.Text
			node.Text = &text
		}
		if rq.Value != nil {
			if node.Value == nil {
				return resp
			}
			value := *rq.Value
			node.Value = &value
		}
		resp.Status = true

	case proto.DoAccessibleRequest:
		node, err := r.root.Find(rq.Path)
		if err != nil || r.readOnly {
			return resp
		}
		resp.Status = slices.Contains(node.Actions, rq.Action)

	case proto.MouseEventRequest, proto.KeyboardEventRequest:
		resp.Status = !r.readOnly

	case proto.SystemExecRequest:
		if r.readOnly {
			return resp
		}
		resp.Exec = &proto.ExecResult{Code: 127, Stderr: "command execution is not available on a replayed device"}

	case proto.SystemInfoRequest:
		info := r.info
		resp.Info = &info
		resp.Status = true
	}
	return resp
}

// Snapshot returns a deep copy of the current tree.
func (r *Responder) Snapshot() proto.Accessible {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root.Trim(-1, true)
}

func errorReply(req proto.Message, text string) proto.Message {
	return proto.Message{Type: proto.TypeError, ID: req.ID, Error: text}
}
