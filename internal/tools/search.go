// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"time"

	"github.com/flandriendev/briven/internal/ranker"
	"github.com/mark3labs/mcp-go/mcp"
)

// NewSearchTool creates the memory_search tool definition
func NewSearchTool() mcp.Tool {
	return mcp.NewTool("memory_search",
		mcp.WithDescription("Search memories by keywords and meaning. Results flagged 'degraded' were ranked on keywords only because semantic recall was unavailable."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What to look for"),
		),
		mcp.WithString("scope",
			mcp.Description("Only search this scope. Empty searches every scope."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default 5)"),
		),
		mcp.WithNumber("weight",
			mcp.Description("Semantic weight between 0 (keywords only) and 1 (meaning only)"),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("How long to wait for semantic results before falling back to keywords"),
		),
	)
}

// SearchHandler handles the memory_search tool
func SearchHandler(tc *ToolContext) Handler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		_, scope := callerDefaults(ctx)
		req := ranker.Request{
			Query:   query,
			Scope:   request.GetString("scope", scope),
			Limit:   int(request.GetFloat("limit", 0)),
			Timeout: time.Duration(request.GetFloat("timeout_ms", 0)) * time.Millisecond,
		}
		if _, ok := request.GetArguments()["weight"]; ok {
			w := request.GetFloat("weight", 0)
			req.Weight = &w
		}

		resp, err := tc.Ranker.Search(ctx, req)
		if err != nil {
			return tc.errorResult("search", err), nil
		}
		return jsonResult(resp)
	}
}
