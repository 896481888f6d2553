// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flandriendev/briven/internal/database"
	"gorm.io/gorm"
)

// DefaultTTLHours is the lifetime of a token when none is configured
const DefaultTTLHours = 720

var (
	// ErrTokenNotFound is returned for tokens that were never issued
	ErrTokenNotFound = errors.New("token not found")
	// ErrTokenExpired is returned for tokens past their expiry
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked is returned for revoked tokens
	ErrTokenRevoked = errors.New("token revoked")
)

// Issued is a freshly generated token. Secret is only available here; the
// database keeps its hash.
type Issued struct {
	Secret string
	Token  *database.AccessToken
}

// TokenManager handles bearer token operations
type TokenManager struct {
	db       *gorm.DB
	ttlHours int
	now      func() time.Time
}

// NewTokenManager creates a new token manager
func NewTokenManager(db *gorm.DB, ttlHours int) *TokenManager {
	if ttlHours <= 0 {
		ttlHours = DefaultTTLHours
	}
	return &TokenManager{
		db:       db,
		ttlHours: ttlHours,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GenerateToken issues a token for a named client. scope, when set, becomes
// the client's default scope.
func (tm *TokenManager) GenerateToken(ctx context.Context, name, scope string) (*Issued, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("token name is required")
	}

	secret, err := generateRandomToken(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	token := &database.AccessToken{
		Name:      name,
		Scope:     strings.TrimSpace(scope),
		TokenHash: hashToken(secret),
		ExpiresAt: tm.now().Add(time.Duration(tm.ttlHours) * time.Hour),
	}
	if err := tm.db.WithContext(ctx).Create(token).Error; err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	return &Issued{Secret: secret, Token: token}, nil
}

// ValidateToken checks that a token exists, is unrevoked and unexpired
func (tm *TokenManager) ValidateToken(ctx context.Context, secret string) (*database.AccessToken, error) {
	var token database.AccessToken
	err := tm.db.WithContext(ctx).Where("token_hash = ?", hashToken(secret)).First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to query token: %w", err)
	}

	if token.RevokedAt != nil {
		return nil, ErrTokenRevoked
	}
	if !token.IsValid(tm.now()) {
		return nil, ErrTokenExpired
	}
	return &token, nil
}

// RevokeToken revokes a token by id
func (tm *TokenManager) RevokeToken(ctx context.Context, id uint) error {
	now := tm.now()
	result := tm.db.WithContext(ctx).Model(&database.AccessToken{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", &now)
	if result.Error != nil {
		return fmt.Errorf("failed to revoke token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// RevokeByName revokes every live token of a client
func (tm *TokenManager) RevokeByName(ctx context.Context, name string) (int64, error) {
	now := tm.now()
	result := tm.db.WithContext(ctx).Model(&database.AccessToken{}).
		Where("name = ? AND revoked_at IS NULL", name).
		Update("revoked_at", &now)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to revoke tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// List returns every token, newest first
func (tm *TokenManager) List(ctx context.Context) ([]database.AccessToken, error) {
	var tokens []database.AccessToken
	if err := tm.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&tokens).Error; err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	return tokens, nil
}

// CleanExpiredTokens removes expired and revoked tokens from the database
func (tm *TokenManager) CleanExpiredTokens(ctx context.Context) (int64, error) {
	result := tm.db.WithContext(ctx).
		Where("expires_at < ? OR revoked_at IS NOT NULL", tm.now()).
		Delete(&database.AccessToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to clean expired tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func hashToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// generateRandomToken creates a secure random token
func generateRandomToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
