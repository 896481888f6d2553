// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/flandriendev/briven/internal/auth"
)

const shutdownTimeout = 10 * time.Second

// Health is the body of the /health endpoint
type Health struct {
	Status     string `json:"status"`
	Embeddings string `json:"embeddings"`
	Model      string `json:"model,omitempty"`
	Records    int64  `json:"records"`
	// Pending counts writes whose embedding has not landed yet
	Pending int    `json:"pending_embeddings"`
	Error   string `json:"error,omitempty"`
}

// HTTPServer serves MCP over streamable HTTP behind bearer-token auth
type HTTPServer struct {
	mcpServer      *MCPServer
	authMiddleware *auth.Middleware
	streamable     *server.StreamableHTTPServer
}

// NewHTTPServer creates the HTTP transport for s
func NewHTTPServer(s *MCPServer) *HTTPServer {
	streamable := server.NewStreamableHTTPServer(
		s.GetMCPServer(),
		server.WithHTTPContextFunc(clientContext),
	)

	return &HTTPServer{
		mcpServer:      s,
		authMiddleware: auth.NewMiddleware(s.Engine().Tokens()),
		streamable:     streamable,
	}
}

// clientContext carries the authenticated client into tool handlers
func clientContext(ctx context.Context, r *http.Request) context.Context {
	if c, ok := auth.ClientFromContext(r.Context()); ok {
		return auth.WithClient(ctx, c)
	}
	return ctx
}

// RegisterRoutes registers all HTTP routes
func (h *HTTPServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HandleHealth)

	// MCP routes (protected)
	mux.Handle("/mcp", h.authMiddleware.RequireAuth(h.streamable))
}

// Handler returns a mux with every route registered
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

// HandleHealth reports store reachability and the embedding provider state
func (h *HTTPServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	e := h.mcpServer.Engine()
	gw := e.Gateway()

	body := Health{
		Status:     "ok",
		Embeddings: gw.State(),
		Pending:    e.Manager().Pending(),
	}
	if gw.Enabled() {
		body.Model = gw.Model()
	}

	code := http.StatusOK
	if err := e.Store().Ping(r.Context()); err != nil {
		body.Status = "unavailable"
		body.Error = err.Error()
		code = http.StatusServiceUnavailable
	} else if n, err := e.Store().CountLive(r.Context(), ""); err == nil {
		body.Records = n
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. certFile and keyFile enable TLS when both are set.
func (h *HTTPServer) ListenAndServe(ctx context.Context, addr, certFile, keyFile string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if certFile != "" && keyFile != "" {
			errCh <- srv.ListenAndServeTLS(certFile, keyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
