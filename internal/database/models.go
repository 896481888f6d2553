// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"time"

	"github.com/flandriendev/briven/internal/memory"
	"gorm.io/gorm"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// MemoryRecord is the durable form of a memory
type MemoryRecord struct {
	ID             string      `gorm:"primaryKey;size:36" json:"id"`
	Content        string      `gorm:"type:text;not null" json:"content"`
	Kind           memory.Kind `gorm:"size:32;not null;index" json:"kind"`
	Source         string      `gorm:"size:255;index" json:"source"`
	Scope          string      `gorm:"size:255;not null;index" json:"scope"`
	Fingerprint    string      `gorm:"size:32;not null" json:"fingerprint"`
	Embedding      []byte      `json:"-"`
	EmbeddingModel string      `gorm:"size:128" json:"embedding_model,omitempty"`
	CreatedAt      time.Time   `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time   `gorm:"not null" json:"updated_at"`
	TombstonedAt   *time.Time  `gorm:"index" json:"tombstoned_at,omitempty"`
	SupersededBy   *string     `gorm:"size:36;index" json:"superseded_by,omitempty"`
}

// TableName specifies the table name for MemoryRecord
func (MemoryRecord) TableName() string {
	return "memory_records"
}

// AfterFind normalizes timestamps to UTC
func (r *MemoryRecord) AfterFind(tx *gorm.DB) error {
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	if r.TombstonedAt != nil {
		t := r.TombstonedAt.UTC()
		r.TombstonedAt = &t
	}
	return nil
}

// Vector decodes the stored embedding; nil when absent
func (r *MemoryRecord) Vector() []float32 {
	return memory.DecodeVector(r.Embedding)
}

// HasEmbedding reports whether an embedding is stored
func (r *MemoryRecord) HasEmbedding() bool {
	return len(r.Embedding) > 0
}

// IsTombstoned reports whether the record has been forgotten
func (r *MemoryRecord) IsTombstoned() bool {
	return r.TombstonedAt != nil
}

// EmbeddingCacheEntry persists a computed embedding keyed by content and model
type EmbeddingCacheEntry struct {
	ContentHash string    `gorm:"primaryKey;size:32" json:"content_hash"`
	Model       string    `gorm:"primaryKey;size:128" json:"model"`
	Dimensions  int       `gorm:"not null" json:"dimensions"`
	Vector      []byte    `gorm:"not null" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for EmbeddingCacheEntry
func (EmbeddingCacheEntry) TableName() string {
	return "embedding_cache"
}

// AccessToken is a bearer token for HTTP mode
type AccessToken struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Name      string     `gorm:"size:255;not null;index" json:"name"`
	Scope     string     `gorm:"size:255" json:"scope"`
	TokenHash string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time  `gorm:"not null" json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// TableName specifies the table name for AccessToken
func (AccessToken) TableName() string {
	return "access_tokens"
}

// IsValid reports whether the token is unrevoked and unexpired at now
func (t *AccessToken) IsValid(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
