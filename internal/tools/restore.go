// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// NewRestoreTool creates the memory_restore tool definition
func NewRestoreTool() mcp.Tool {
	return mcp.NewTool("memory_restore",
		mcp.WithDescription("Bring back a forgotten memory. If the same content was written again since, the id of that live memory is returned instead."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Id of the forgotten memory"),
		),
	)
}

// RestoreHandler handles the memory_restore tool
func RestoreHandler(tc *ToolContext) Handler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		liveID, err := tc.Manager.Restore(ctx, id)
		if err != nil {
			return tc.errorResult("restore", err), nil
		}
		return jsonResult(map[string]interface{}{
			"id":       liveID,
			"restored": liveID == id,
		})
	}
}
