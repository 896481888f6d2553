// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"time"

	"github.com/flandriendev/briven/internal/database"
	"github.com/flandriendev/briven/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

// Record is the tool-facing view of a stored memory
type Record struct {
	ID           string      `json:"id"`
	Content      string      `json:"content"`
	Kind         memory.Kind `json:"kind"`
	Source       string      `json:"source"`
	Scope        string      `json:"scope"`
	Fingerprint  string      `json:"fingerprint"`
	CreatedAt    time.Time   `json:"created_at"`
	TombstonedAt *time.Time  `json:"tombstoned_at"`
	SupersededBy *string     `json:"superseded_by,omitempty"`
	HasEmbedding bool        `json:"has_embedding"`
}

func recordView(rec *database.MemoryRecord) Record {
	return Record{
		ID:           rec.ID,
		Content:      rec.Content,
		Kind:         rec.Kind,
		Source:       rec.Source,
		Scope:        rec.Scope,
		Fingerprint:  rec.Fingerprint,
		CreatedAt:    rec.CreatedAt,
		TombstonedAt: rec.TombstonedAt,
		SupersededBy: rec.SupersededBy,
		HasEmbedding: rec.HasEmbedding(),
	}
}

// NewGetTool creates the memory_get tool definition
func NewGetTool() mcp.Tool {
	return mcp.NewTool("memory_get",
		mcp.WithDescription("Fetch one memory by id, including forgotten ones."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Id of the memory"),
		),
	)
}

// GetHandler handles the memory_get tool
func GetHandler(tc *ToolContext) Handler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		rec, err := tc.Manager.Get(ctx, id)
		if err != nil {
			return tc.errorResult("get", err), nil
		}
		return jsonResult(recordView(rec))
	}
}
