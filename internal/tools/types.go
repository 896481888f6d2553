// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package tools exposes the memory engine as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flandriendev/briven/internal/auth"
	"github.com/flandriendev/briven/internal/lifecycle"
	"github.com/flandriendev/briven/internal/logging"
	"github.com/flandriendev/briven/internal/memory"
	"github.com/flandriendev/briven/internal/ranker"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
)

// ToolContext holds shared dependencies for all tools
type ToolContext struct {
	Manager *lifecycle.Manager
	Ranker  *ranker.Ranker
	Log     *logrus.Entry
}

// NewToolContext creates a new tool context
func NewToolContext(m *lifecycle.Manager, r *ranker.Ranker, log *logrus.Entry) *ToolContext {
	return &ToolContext{
		Manager: m,
		Ranker:  r,
		Log:     logging.OrNop(log),
	}
}

// Handler is the signature of every tool handler
type Handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// callerDefaults returns the source and scope of the authenticated client,
// which apply when a request leaves them out
func callerDefaults(ctx context.Context) (source, scope string) {
	if c, ok := auth.ClientFromContext(ctx); ok {
		return c.Name, c.Scope
	}
	return "", ""
}

// jsonResult renders v as the text content of a tool result
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult maps engine errors onto tool errors the caller can act on
func (tc *ToolContext) errorResult(op string, err error) *mcp.CallToolResult {
	var msg string
	switch {
	case errors.Is(err, memory.ErrNotFound):
		msg = "NotFound"
	case errors.Is(err, memory.ErrDuplicateID):
		msg = "DuplicateId"
	case errors.Is(err, memory.ErrStoreUnavailable):
		msg = "StoreUnavailable"
	case errors.Is(err, memory.ErrInvalidKind), errors.Is(err, memory.ErrEmptyContent), errors.Is(err, ranker.ErrInvalidWeight):
		msg = "InvalidArgument"
	default:
		msg = "Error"
	}
	if memory.IsFatal(err) {
		tc.Log.WithError(err).WithField("op", op).Error("tool call failed")
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", msg, err))
}
