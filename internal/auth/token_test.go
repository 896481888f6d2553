// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/flandriendev/briven/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect(&database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func TestTokenManager_GenerateToken(t *testing.T) {
	tm := NewTokenManager(setupTestDB(t), 24)

	issued, err := tm.GenerateToken(context.Background(), "orchestrator", "agent")
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Secret)
	assert.Equal(t, "orchestrator", issued.Token.Name)
	assert.Equal(t, "agent", issued.Token.Scope)
	assert.NotEqual(t, issued.Secret, issued.Token.TokenHash)
	assert.Equal(t, hashToken(issued.Secret), issued.Token.TokenHash)
	assert.True(t, issued.Token.ExpiresAt.After(time.Now()))
}

func TestTokenManager_GenerateToken_RequiresName(t *testing.T) {
	tm := NewTokenManager(setupTestDB(t), 24)
	_, err := tm.GenerateToken(context.Background(), "  ", "")
	assert.Error(t, err)
}

func TestTokenManager_ValidateToken(t *testing.T) {
	ctx := context.Background()
	tm := NewTokenManager(setupTestDB(t), 24)
	issued, err := tm.GenerateToken(ctx, "cli", "")
	require.NoError(t, err)

	token, err := tm.ValidateToken(ctx, issued.Secret)
	require.NoError(t, err)
	assert.Equal(t, issued.Token.ID, token.ID)

	_, err = tm.ValidateToken(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenManager_ValidateToken_Expired(t *testing.T) {
	ctx := context.Background()
	tm := NewTokenManager(setupTestDB(t), 1)
	issued, err := tm.GenerateToken(ctx, "cli", "")
	require.NoError(t, err)

	tm.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	_, err = tm.ValidateToken(ctx, issued.Secret)
	assert.ErrorIs(t, err, ErrTokenExpired)

	n, err := tm.CleanExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTokenManager_RevokeToken(t *testing.T) {
	ctx := context.Background()
	tm := NewTokenManager(setupTestDB(t), 24)
	issued, err := tm.GenerateToken(ctx, "cli", "")
	require.NoError(t, err)

	require.NoError(t, tm.RevokeToken(ctx, issued.Token.ID))
	_, err = tm.ValidateToken(ctx, issued.Secret)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	assert.ErrorIs(t, tm.RevokeToken(ctx, issued.Token.ID), ErrTokenNotFound)
}

func TestTokenManager_RevokeByName(t *testing.T) {
	ctx := context.Background()
	tm := NewTokenManager(setupTestDB(t), 24)
	for i := 0; i < 2; i++ {
		_, err := tm.GenerateToken(ctx, "worker", "")
		require.NoError(t, err)
	}
	keep, err := tm.GenerateToken(ctx, "other", "")
	require.NoError(t, err)

	n, err := tm.RevokeByName(ctx, "worker")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = tm.ValidateToken(ctx, keep.Secret)
	assert.NoError(t, err)

	tokens, err := tm.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tokens, 3)

	cleaned, err := tm.CleanExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cleaned)
}
