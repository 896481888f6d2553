// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"strings"

	"github.com/flandriendev/briven/internal/lifecycle"
	"github.com/flandriendev/briven/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

// NewWriteTool creates the memory_write tool definition
func NewWriteTool() mcp.Tool {
	return mcp.NewTool("memory_write",
		mcp.WithDescription("Store a memory. Writing content that already exists in the scope returns the existing id. Set 'replaces' to supersede an older memory with updated content."),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("The text to remember"),
		),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("What sort of memory this is"),
			mcp.Enum(memory.KindNames()...),
		),
		mcp.WithString("source",
			mcp.Description("Where the memory came from, e.g. 'chat' or a tool name"),
		),
		mcp.WithString("scope",
			mcp.Description("Namespace for the memory. Defaults to 'default'."),
		),
		mcp.WithString("replaces",
			mcp.Description("Id of a memory this one supersedes. The old memory is forgotten and keeps its kind, source and scope."),
		),
	)
}

// WriteHandler handles the memory_write tool
func WriteHandler(tc *ToolContext) Handler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := request.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if replaces := strings.TrimSpace(request.GetString("replaces", "")); replaces != "" {
			res, err := tc.Manager.Replace(ctx, replaces, content)
			if err != nil {
				return tc.errorResult("write", err), nil
			}
			return jsonResult(map[string]interface{}{
				"id":           res.ID,
				"deduplicated": res.Deduplicated,
				"replaced":     replaces,
			})
		}

		kindArg, err := request.RequireString("kind")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		kind, err := memory.ParseKind(kindArg)
		if err != nil {
			return tc.errorResult("write", err), nil
		}

		source, scope := callerDefaults(ctx)
		source = request.GetString("source", source)
		scope = request.GetString("scope", scope)

		res, err := tc.Manager.Write(ctx, lifecycle.WriteRequest{
			Content: content,
			Kind:    kind,
			Source:  source,
			Scope:   scope,
		})
		if err != nil {
			return tc.errorResult("write", err), nil
		}
		return jsonResult(res)
	}
}
