package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/mbocsi/gotadek/app"
)

const shutdownTimeout = 5 * time.Second

// Server exposes the app's devices as a JSON API with a WebSocket event
// stream.
type Server struct {
	Addr string

	app      *app.App
	upgrader websocket.Upgrader

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

func NewServer(addr string, a *app.App) *Server {
	return &Server{
		Addr: addr,
		app:  a,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
		done: make(chan struct{}),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/api", func(r chi.Router) {
		r.Get("/devices", s.HandleDevices)
		r.Post("/devices", s.HandleAddDevice)
		r.Get("/devices/{name}", s.HandleDevice)
		r.Delete("/devices/{name}", s.HandleRemoveDevice)
		r.Post("/devices/{name}/connect", s.HandleConnect)
		r.Post("/devices/{name}/disconnect", s.HandleDisconnect)
		r.Post("/devices/{name}/requests", s.HandleRequest)
		r.Get("/devices/{name}/responses/{id}", s.HandleResponse)
		r.Get("/events", s.HandleEvents)
	})
	return r
}

// Listen binds the server address. Start calls it when needed; calling it
// first lets the caller learn the bound port.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr(), nil
	}
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return nil, err
	}
	s.listener = ln
	return ln.Addr(), nil
}

func (s *Server) Start() error {
	addr, err := s.Listen()
	if err != nil {
		return err
	}
	slog.Info("Starting HTTP API", "addr", addr.String())

	s.mu.Lock()
	s.server = &http.Server{Handler: s.Routes()}
	srv, ln := s.server, s.listener
	s.mu.Unlock()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown() error {
	slog.Info("Shutting down HTTP API", "addr", s.Addr)
	s.mu.Lock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	srv, ln := s.server, s.listener
	s.mu.Unlock()

	if srv == nil {
		if ln != nil {
			return ln.Close()
		}
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
