// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flandriendev/briven/internal/database"
	"github.com/flandriendev/briven/internal/memory"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Cache persists vectors by content hash and model, so identical content is
// never sent to the provider twice
type Cache struct {
	db *gorm.DB
}

// NewCache wraps a migrated database handle
func NewCache(db *gorm.DB) *Cache {
	return &Cache{db: db}
}

// Get returns the cached vector, or nil on a miss
func (c *Cache) Get(ctx context.Context, contentHash, model string) ([]float32, error) {
	var entry database.EmbeddingCacheEntry
	err := c.db.WithContext(ctx).
		Where("content_hash = ? AND model = ?", contentHash, model).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding cache: %w", err)
	}
	return memory.DecodeVector(entry.Vector), nil
}

// Put stores a vector; an existing entry is left untouched
func (c *Cache) Put(ctx context.Context, contentHash, model string, vec []float32) error {
	entry := database.EmbeddingCacheEntry{
		ContentHash: contentHash,
		Model:       model,
		Dimensions:  len(vec),
		Vector:      memory.EncodeVector(vec),
		CreatedAt:   time.Now().UTC(),
	}
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "content_hash"}, {Name: "model"}},
		DoNothing: true,
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to cache embedding: %w", err)
	}
	return nil
}

// Count returns the number of cached vectors
func (c *Cache) Count(ctx context.Context) (int64, error) {
	var count int64
	err := c.db.WithContext(ctx).Model(&database.EmbeddingCacheEntry{}).Count(&count).Error
	return count, err
}
