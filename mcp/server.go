package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/mbocsi/gotadek/app"
)

const Version = "1.0.0"

// Server exposes the app's devices as MCP tools, over stdio or, when
// SSEAddr is set, over HTTP server-sent events.
type Server struct {
	SSEAddr string

	app       *app.App
	mcpServer *server.MCPServer

	mu       sync.Mutex
	cancel   context.CancelFunc
	sse      *server.SSEServer
	waitTime time.Duration
}

func NewServer(a *app.App) *Server {
	s := &Server{
		app:       a,
		mcpServer: server.NewMCPServer("tadek", Version, server.WithToolCapabilities(false)),
		waitTime:  defaultWait,
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying server, for embedding in another
// transport.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) Start() error {
	if s.SSEAddr != "" {
		return s.startSSE()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	slog.Info("Started stdio MCP server")
	defer func() {
		slog.Info("Shut down stdio MCP server")
	}()
	stdio := server.NewStdioServer(s.mcpServer)
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) startSSE() error {
	sse := server.NewSSEServer(s.mcpServer)
	s.mu.Lock()
	s.sse = sse
	s.mu.Unlock()

	slog.Info("Started SSE MCP server", "addr", s.SSEAddr)
	if err := sse.Start(s.SSEAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown() error {
	s.mu.Lock()
	cancel, sse := s.cancel, s.sse
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sse != nil {
		ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return sse.Shutdown(ctx)
	}
	return nil
}
