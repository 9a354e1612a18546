package mcpservice

import (
	"log/slog"

	"github.com/docfork/docfork-mcp/mcp"
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// Server describes the implementation served to every session.
type Server struct {
	info         mcp.ImplementationInfo
	instructions string
	tools        *ToolsContainer
	log          *slog.Logger
}

// NewServer builds a Server from options.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		info:  mcp.ImplementationInfo{Name: "mcp-server", Version: "0.0.0"},
		tools: NewToolsContainer(),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithServerInfo sets the implementation info returned from initialize.
func WithServerInfo(info mcp.ImplementationInfo) ServerOption {
	return func(s *Server) { s.info = info }
}

// WithInstructions sets human-readable instructions returned during initialize.
func WithInstructions(instr string) ServerOption {
	return func(s *Server) { s.instructions = instr }
}

// WithTools registers tools, replacing any previously registered set.
func WithTools(tools ...StaticTool) ServerOption {
	return func(s *Server) { s.tools = NewToolsContainer(tools...) }
}

// WithLogger sets the logger inherited by engines.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// Info returns the configured implementation info.
func (s *Server) Info() mcp.ImplementationInfo { return s.info }

// Tools returns the registered tool container.
func (s *Server) Tools() *ToolsContainer { return s.tools }

// NewEngine returns a fresh engine bound to s.
func (s *Server) NewEngine() *Engine {
	return &Engine{
		srv:      s,
		log:      s.log,
		inflight: make(map[string]func(error)),
	}
}
