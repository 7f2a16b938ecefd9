package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mbocsi/gotadek/device"
	"github.com/mbocsi/gotadek/proto"
)

type deviceView struct {
	device.Config
	Connected bool              `json:"connected"`
	Error     string            `json:"error,omitempty"`
	Info      *proto.SystemInfo `json:"info,omitempty"`
}

type messageView struct {
	ID         uint64            `json:"id"`
	Type       string            `json:"type"`
	Target     string            `json:"target"`
	Name       string            `json:"name"`
	Status     bool              `json:"status"`
	Params     map[string]string `json:"params,omitempty"`
	Accessible *proto.Accessible `json:"accessible,omitempty"`
	Info       *proto.SystemInfo `json:"info,omitempty"`
	Exec       *proto.ExecResult `json:"exec,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type requestBody struct {
	Operation string     `json:"operation"`
	Args      proto.Args `json:"args"`
}

func (s *Server) viewOf(dev *device.Device) deviceView {
	v := deviceView{
		Config:    dev.Config(),
		Connected: dev.IsConnected(),
		Info:      dev.Info(),
	}
	if err := dev.GetError(); err != nil {
		v.Error = err.Error()
	} else if err := s.app.LastError(dev.Name()); err != nil {
		v.Error = err.Error()
	}
	return v
}

func viewOfMessage(msg proto.Message) messageView {
	v := messageView{
		ID:         msg.ID,
		Type:       msg.Type,
		Target:     msg.Target,
		Name:       msg.Name,
		Status:     msg.Status,
		Accessible: msg.Accessible,
		Info:       msg.Info,
		Exec:       msg.Exec,
		Error:      msg.Error,
	}
	if len(msg.Params) > 0 {
		v.Params = make(map[string]string, len(msg.Params))
		for _, p := range msg.Params {
			v.Params[p.Name] = p.Value
		}
	}
	return v
}

func (s *Server) HandleDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.app.Registry.List()
	views := make([]deviceView, 0, len(devices))
	for _, dev := range devices {
		views = append(views, s.viewOf(dev))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) HandleDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.app.Device(chi.URLParam(r, "name"))
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(dev))
}

func (s *Server) HandleAddDevice(w http.ResponseWriter, r *http.Request) {
	var cfg device.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		handleError(w, ServiceError{Code: ErrCodeInvalidInput, Message: "Invalid device configuration", Cause: err})
		return
	}
	if err := cfg.Validate(); err != nil {
		handleError(w, ServiceError{Code: ErrCodeInvalidInput, Message: "Invalid device configuration", Cause: err})
		return
	}
	dev, err := s.app.AddDevice(cfg)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.viewOf(dev))
}

func (s *Server) HandleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.app.RemoveDevice(chi.URLParam(r, "name")); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleConnect(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.app.ConnectDevice(r.Context(), name); err != nil {
		handleError(w, err)
		return
	}
	s.HandleDevice(w, r)
}

func (s *Server) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.app.DisconnectDevice(name); err != nil {
		handleError(w, err)
		return
	}
	s.HandleDevice(w, r)
}

// HandleRequest sends an operation and answers with its id. The response
// is fetched later from the responses endpoint.
func (s *Server) HandleRequest(w http.ResponseWriter, r *http.Request) {
	dev, err := s.app.Device(chi.URLParam(r, "name"))
	if err != nil {
		handleError(w, err)
		return
	}

	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		handleError(w, ServiceError{Code: ErrCodeInvalidInput, Message: "Invalid request body", Cause: err})
		return
	}
	req, err := proto.ParseRequest(body.Operation, body.Args)
	if err != nil {
		handleError(w, ServiceError{Code: ErrCodeInvalidInput, Message: "Invalid request", Cause: err})
		return
	}

	id, err := dev.Request(req)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]proto.MsgID{"id": id})
}

func (s *Server) HandleResponse(w http.ResponseWriter, r *http.Request) {
	dev, err := s.app.Device(chi.URLParam(r, "name"))
	if err != nil {
		handleError(w, err)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || proto.MsgID(id) <= proto.DefaultMsgID {
		handleError(w, ServiceError{Code: ErrCodeInvalidInput, Message: "Invalid message id", Cause: err})
		return
	}

	msg, err := dev.GetResponse(proto.MsgID(id))
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOfMessage(msg))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// handleError writes service errors with the matching HTTP status code.
func handleError(w http.ResponseWriter, err error) {
	se := classify(err)
	if se.Code == ErrCodeInternal {
		slog.Error("Service error", "error", err)
	} else {
		slog.Debug("Request rejected", "code", se.Code, "error", err)
	}
	writeJSON(w, se.status(), se)
}
