// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// NewForgetTool creates the memory_forget tool definition
func NewForgetTool() mcp.Tool {
	return mcp.NewTool("memory_forget",
		mcp.WithDescription("Forget a memory. It disappears from search immediately but stays recoverable with memory_restore until the retention sweep purges it."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Id of the memory to forget"),
		),
	)
}

// ForgetHandler handles the memory_forget tool
func ForgetHandler(tc *ToolContext) Handler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := tc.Manager.Forget(ctx, id); err != nil {
			return tc.errorResult("forget", err), nil
		}
		return jsonResult(map[string]interface{}{"id": id, "ok": true})
	}
}
