// Package server gates MCP tools behind x402 payments. It wraps an
// mcp-go server so that calls to protected tools answer with a JSON-RPC
// 402 challenge until a verified payment arrives in params._meta, and
// injects the settlement receipt into result._meta on the way out.
package server

import (
	"fmt"
	"net/http"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/mcp"
	"github.com/x402labs/x402-go/validation"
)

// X402Server wraps an MCP server and adds x402 payment gating.
type X402Server struct {
	mcpServer *mcpserver.MCPServer
	config    *Config
}

// NewX402Server creates an MCP server with x402 payment support. The
// name and version identify the server during the MCP handshake.
func NewX402Server(name, version string, config *Config) *X402Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.PaymentTools == nil {
		config.PaymentTools = make(map[string][]x402.PaymentRequirement)
	}

	return &X402Server{
		mcpServer: mcpserver.NewMCPServer(name, version),
		config:    config,
	}
}

// AddTool adds a free tool requiring no payment.
func (s *X402Server) AddTool(tool mcpproto.Tool, handler mcpserver.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, handler)
}

// AddPayableTool adds a tool gated behind at least one payment option.
// Each option is validated structurally and stamped with the tool's
// canonical resource URI.
func (s *X402Server) AddPayableTool(tool mcpproto.Tool, handler mcpserver.ToolHandlerFunc, requirements ...x402.PaymentRequirement) error {
	if len(requirements) == 0 {
		return fmt.Errorf("at least one payment requirement must be provided for payable tool %s", tool.Name)
	}

	for i, req := range requirements {
		if err := validation.ValidatePaymentRequirement(req); err != nil {
			return fmt.Errorf("invalid requirement %d for tool %s: %w", i, tool.Name, err)
		}
		requirements[i].Resource = mcp.ToolResource(tool.Name)
	}

	s.config.AddPaymentTool(tool.Name, requirements...)
	s.mcpServer.AddTool(tool, handler)
	return nil
}

// Handler returns the streamable HTTP handler wrapped with payment
// gating.
func (s *X402Server) Handler() http.Handler {
	httpServer := mcpserver.NewStreamableHTTPServer(s.mcpServer)
	return NewX402Handler(httpServer, s.config)
}

// Start serves the payment-gated MCP server on the given address.
func (s *X402Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.Handler())
}

// MCPServer returns the underlying MCP server for advanced usage.
func (s *X402Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
