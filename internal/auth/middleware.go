// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package auth

import (
	"context"
	"net/http"
	"strings"
)

// ContextKey is the type for context keys
type ContextKey string

// ClientKey is the context key for the authenticated client
const ClientKey ContextKey = "client"

// Client is the caller behind a bearer token. Its name is the default source
// of writes and its scope the default scope of writes and queries.
type Client struct {
	TokenID uint
	Name    string
	Scope   string
}

// Middleware provides HTTP middleware for authentication
type Middleware struct {
	tokenManager *TokenManager
}

// NewMiddleware creates a new auth middleware
func NewMiddleware(tokenManager *TokenManager) *Middleware {
	return &Middleware{
		tokenManager: tokenManager,
	}
}

// RequireAuth rejects requests without a valid bearer token
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := extractToken(r)
		if secret == "" {
			http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
			return
		}

		token, err := m.tokenManager.ValidateToken(r.Context(), secret)
		if err != nil {
			http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
			return
		}

		ctx := WithClient(r.Context(), Client{TokenID: token.ID, Name: token.Name, Scope: token.Scope})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth attaches the client if a valid token is present
func (m *Middleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret := extractToken(r); secret != "" {
			if token, err := m.tokenManager.ValidateToken(r.Context(), secret); err == nil {
				r = r.WithContext(WithClient(r.Context(), Client{TokenID: token.ID, Name: token.Name, Scope: token.Scope}))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// extractToken extracts the bearer token from the Authorization header
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		// Expected format: "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("access_token")
}

// ClientFromContext returns the authenticated client, if any
func ClientFromContext(ctx context.Context) (Client, bool) {
	c, ok := ctx.Value(ClientKey).(Client)
	return c, ok
}

// WithClient attaches a client to a context
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, ClientKey, c)
}
