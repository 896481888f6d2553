// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// liveFingerprintIndex keeps at most one live record per scope and content
const liveFingerprintIndex = "idx_records_live_fingerprint"

// AllModels returns all database models for migration
func AllModels() []interface{} {
	return []interface{}{
		&MemoryRecord{},
		&EmbeddingCacheEntry{},
		&AccessToken{},
	}
}

// Migrate runs database migrations for all models
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// CreateIndexes creates additional indexes for better query performance
func CreateIndexes(db *gorm.DB) error {
	indexes := []struct {
		table   string
		columns []string
		name    string
		unique  bool
		where   string
	}{
		{
			table:   "memory_records",
			columns: []string{"scope", "created_at"},
			name:    "idx_records_scope_created",
		},
		{
			table:   "memory_records",
			columns: []string{"scope", "source", "created_at"},
			name:    "idx_records_scope_source",
		},
		{
			// At most one live record per (scope, content)
			table:   "memory_records",
			columns: []string{"scope", "fingerprint"},
			name:    liveFingerprintIndex,
			unique:  true,
			where:   "tombstoned_at IS NULL",
		},
		{
			table:   "access_tokens",
			columns: []string{"name", "expires_at"},
			name:    "idx_tokens_name_expires",
		},
	}

	for _, idx := range indexes {
		if db.Migrator().HasIndex(idx.table, idx.name) {
			continue
		}

		kind := "INDEX"
		if idx.unique {
			kind = "UNIQUE INDEX"
		}
		sql := fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)",
			kind, idx.name, idx.table, strings.Join(idx.columns, ", "))
		if idx.where != "" {
			sql += " WHERE " + idx.where
		}

		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}

	return nil
}
