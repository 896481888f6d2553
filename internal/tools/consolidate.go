// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"strings"

	"github.com/flandriendev/briven/internal/lifecycle"
	"github.com/mark3labs/mcp-go/mcp"
)

// NewConsolidateTool creates the memory_consolidate tool definition
func NewConsolidateTool() mcp.Tool {
	return mcp.NewTool("memory_consolidate",
		mcp.WithDescription("Merge near-duplicate memories. The newest copy of each group survives and older copies are forgotten."),
		mcp.WithString("scope",
			mcp.Description("Scope to consolidate. Empty consolidates every scope."),
		),
	)
}

// ConsolidateHandler handles the memory_consolidate tool
func ConsolidateHandler(tc *ToolContext) Handler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		_, scope := callerDefaults(ctx)
		scope = strings.TrimSpace(request.GetString("scope", scope))

		var reports []*lifecycle.ConsolidateReport
		if scope == "" {
			all, err := tc.Manager.ConsolidateAll(ctx)
			if err != nil {
				return tc.errorResult("consolidate", err), nil
			}
			reports = all
		} else {
			report, err := tc.Manager.Consolidate(ctx, scope)
			if err != nil {
				return tc.errorResult("consolidate", err), nil
			}
			reports = append(reports, report)
		}
		return jsonResult(map[string]interface{}{"reports": reports})
	}
}
