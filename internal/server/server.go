// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package server

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/flandriendev/briven/internal/engine"
	"github.com/flandriendev/briven/internal/logging"
	"github.com/flandriendev/briven/internal/tools"
)

// Name is the server name announced during MCP initialization
const Name = "Briven"

// MCPServer wraps the mcp-go server with the memory tools registered
type MCPServer struct {
	mcpServer *server.MCPServer
	engine    *engine.Engine
	log       *logrus.Entry
}

// NewMCPServer creates an MCP server exposing the engine's tools
func NewMCPServer(e *engine.Engine, version string) *MCPServer {
	if version == "" {
		version = "dev"
	}

	s := server.NewMCPServer(
		Name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	tools.Register(s, e.ToolContext())

	return &MCPServer{
		mcpServer: s,
		engine:    e,
		log:       logging.For("server"),
	}
}

// GetMCPServer returns the underlying MCP server
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// Engine returns the engine the tools run against
func (s *MCPServer) Engine() *engine.Engine {
	return s.engine
}

// ServeStdio serves MCP over stdin/stdout until the input closes.
// Nothing but JSON-RPC may be written to stdout while this runs.
func (s *MCPServer) ServeStdio() error {
	s.log.Info("serving MCP over stdio")
	return server.ServeStdio(s.mcpServer)
}
