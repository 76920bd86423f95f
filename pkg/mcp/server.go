package mcp

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/urmzd/ecovent/pkg/device"
	"github.com/urmzd/ecovent/pkg/device/schema"
)

// Server exposes fan control to MCP clients
type Server struct {
	mcpServer  *server.MCPServer
	controller device.Controller
	validator  *schema.Validator
}

// NewServer creates a new MCP server for fan control
func NewServer(controller device.Controller, validator *schema.Validator) *Server {
	s := &Server{
		controller: controller,
		validator:  validator,
	}

	s.mcpServer = server.NewMCPServer(
		"ecovent",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("Control Blauberg/EcoVent Vento Expert ventilation fans on the local network. "+
			"Use list_devices first, then address fans by ID or name."),
	)

	s.registerTools()

	return s
}

// ServeStdio starts the MCP server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
