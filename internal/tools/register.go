// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"github.com/mark3labs/mcp-go/server"
)

// Register adds every memory tool to s
func Register(s *server.MCPServer, tc *ToolContext) {
	s.AddTool(NewWriteTool(), server.ToolHandlerFunc(WriteHandler(tc)))
	s.AddTool(NewForgetTool(), server.ToolHandlerFunc(ForgetHandler(tc)))
	s.AddTool(NewSearchTool(), server.ToolHandlerFunc(SearchHandler(tc)))
	s.AddTool(NewGetTool(), server.ToolHandlerFunc(GetHandler(tc)))
	s.AddTool(NewRestoreTool(), server.ToolHandlerFunc(RestoreHandler(tc)))
	s.AddTool(NewConsolidateTool(), server.ToolHandlerFunc(ConsolidateHandler(tc)))
}
