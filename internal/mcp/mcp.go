// Package mcp exposes the CLI tool primitive as a Model Context Protocol
// tool, so an MCP-capable upstream planner can invoke it directly instead
// of through the HTTP planner contract. It is additive: neither the
// fake-mode nor the HTTP-planner dispatch path requires it, and a
// deployment without an MCP-capable upstream never constructs a Server.
package mcp

import (
	"log/slog"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/loomrun/loom/internal/codexec"
)

// Server wraps an mcp-go server exposing the exec primitive.
type Server struct {
	mcpServer *mcpserver.MCPServer
	tool      *codexec.Tool
	logger    *slog.Logger
}

// New builds and registers the tool set against tool.
func New(tool *codexec.Tool, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{tool: tool, logger: logger}

	s.mcpServer = mcpserver.NewMCPServer(
		"loom",
		"0.1.0",
		mcpserver.WithToolCapabilities(false),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
