// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flandriendev/briven/internal/memory"
	"gorm.io/gorm"
)

// ErrFingerprintExists is returned when a live record with the same
// scope and fingerprint already exists
var ErrFingerprintExists = errors.New("live record with same fingerprint exists")

// DefaultPageSize is the number of rows a Cursor fetches per round trip
const DefaultPageSize = 256

// Store is the durable record store
type Store struct {
	db *gorm.DB
}

// NewStore wraps a migrated database handle
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying handle
func (s *Store) DB() *gorm.DB {
	return s.db
}

// TranslateError maps driver errors onto the memory error taxonomy. A unique
// violation is a fingerprint conflict only when the driver names the live
// fingerprint index or its columns; any other one is a taken id.
func TranslateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return memory.ErrNotFound
	case errors.Is(err, memory.ErrNotFound), errors.Is(err, memory.ErrDuplicateID),
		errors.Is(err, memory.ErrStoreUnavailable), errors.Is(err, ErrFingerprintExists):
		return err
	case isFingerprintViolation(err):
		return ErrFingerprintExists
	case errors.Is(err, gorm.ErrDuplicatedKey), isUniqueViolation(err):
		return memory.ErrDuplicateID
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

// sqlite reports the index columns, postgres the index name
func isFingerprintViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, liveFingerprintIndex) ||
		strings.Contains(msg, "memory_records.fingerprint")
}

func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err)
}

// Put inserts a new record. The id must be unused and no live record in the
// same scope may share its fingerprint.
func (s *Store) Put(ctx context.Context, rec *MemoryRecord) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkPutConflicts(tx, rec); err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil && isDuplicateKey(err) && !isFingerprintViolation(err) {
		// Lost a race after the checks; the driver may not say which key
		if conflict := checkPutConflicts(s.db.WithContext(ctx), rec); conflict != nil {
			return TranslateError(conflict)
		}
	}
	return TranslateError(err)
}

func checkPutConflicts(tx *gorm.DB, rec *MemoryRecord) error {
	var count int64
	if err := tx.Model(&MemoryRecord{}).Where("id = ?", rec.ID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return memory.ErrDuplicateID
	}
	if rec.TombstonedAt != nil {
		return nil
	}
	err := tx.Model(&MemoryRecord{}).
		Where("scope = ? AND fingerprint = ? AND tombstoned_at IS NULL", rec.Scope, rec.Fingerprint).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrFingerprintExists
	}
	return nil
}

// Get returns a record by id, tombstoned or not
func (s *Store) Get(ctx context.Context, id string) (*MemoryRecord, error) {
	var rec MemoryRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, TranslateError(err)
	}
	return &rec, nil
}

// GetMany returns the records that exist among ids, keyed by id
func (s *Store) GetMany(ctx context.Context, ids []string) (map[string]*MemoryRecord, error) {
	out := make(map[string]*MemoryRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var recs []MemoryRecord
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&recs).Error; err != nil {
		return nil, TranslateError(err)
	}
	for i := range recs {
		out[recs[i].ID] = &recs[i]
	}
	return out, nil
}

// FindLiveByFingerprint returns the live record in scope with the given fingerprint
func (s *Store) FindLiveByFingerprint(ctx context.Context, scope, fingerprint string) (*MemoryRecord, error) {
	var rec MemoryRecord
	err := s.db.WithContext(ctx).
		Where("scope = ? AND fingerprint = ? AND tombstoned_at IS NULL", scope, fingerprint).
		First(&rec).Error
	if err != nil {
		return nil, TranslateError(err)
	}
	return &rec, nil
}

// LatestLiveBySource returns the newest live record in scope written by source
func (s *Store) LatestLiveBySource(ctx context.Context, scope, source string) (*MemoryRecord, error) {
	var rec MemoryRecord
	err := s.db.WithContext(ctx).
		Where("scope = ? AND source = ? AND tombstoned_at IS NULL", scope, source).
		Order("created_at DESC, id DESC").
		First(&rec).Error
	if err != nil {
		return nil, TranslateError(err)
	}
	return &rec, nil
}

// Tombstone marks a record forgotten. It reports false when the record was
// already tombstoned.
func (s *Store) Tombstone(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.tombstone(ctx, id, at, nil)
}

// Supersede tombstones a record and links it to the record that replaced it
func (s *Store) Supersede(ctx context.Context, id, canonicalID string, at time.Time) (bool, error) {
	return s.tombstone(ctx, id, at, &canonicalID)
}

func (s *Store) tombstone(ctx context.Context, id string, at time.Time, supersededBy *string) (bool, error) {
	var changed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec MemoryRecord
		if err := tx.Where("id = ?", id).First(&rec).Error; err != nil {
			return err
		}
		if rec.IsTombstoned() {
			return nil
		}

		at = at.UTC()
		updates := map[string]interface{}{
			"tombstoned_at": at,
			"updated_at":    at,
		}
		if supersededBy != nil {
			updates["superseded_by"] = *supersededBy
		}

		result := tx.Model(&MemoryRecord{}).
			Where("id = ? AND tombstoned_at IS NULL", id).
			UpdateColumns(updates)
		if result.Error != nil {
			return result.Error
		}
		changed = result.RowsAffected > 0
		return nil
	})
	return changed, TranslateError(err)
}

// Restore clears a tombstone. It fails with ErrFingerprintExists when a live
// record in the same scope already holds the content.
func (s *Store) Restore(ctx context.Context, id string, at time.Time) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec MemoryRecord
		if err := tx.Where("id = ?", id).First(&rec).Error; err != nil {
			return err
		}
		if !rec.IsTombstoned() {
			return nil
		}
		err := tx.Model(&MemoryRecord{}).
			Where("id = ?", id).
			UpdateColumns(map[string]interface{}{
				"tombstoned_at": nil,
				"superseded_by": nil,
				"updated_at":    at.UTC(),
			}).Error
		// Clearing a tombstone can only collide on the live fingerprint index
		if err != nil && isDuplicateKey(err) {
			return ErrFingerprintExists
		}
		return err
	})
	return TranslateError(err)
}

// Touch bumps updated_at on a live record
func (s *Store) Touch(ctx context.Context, id string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&MemoryRecord{}).
		Where("id = ? AND tombstoned_at IS NULL", id).
		UpdateColumn("updated_at", at.UTC())
	if result.Error != nil {
		return TranslateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// SetEmbedding attaches a vector to a live record that has none yet. It
// reports false when the record is gone, tombstoned, or already embedded.
func (s *Store) SetEmbedding(ctx context.Context, id string, vec []float32, model string) (bool, error) {
	if len(vec) == 0 {
		return false, nil
	}
	result := s.db.WithContext(ctx).Model(&MemoryRecord{}).
		Where("id = ? AND tombstoned_at IS NULL AND embedding IS NULL", id).
		UpdateColumns(map[string]interface{}{
			"embedding":       memory.EncodeVector(vec),
			"embedding_model": model,
		})
	if result.Error != nil {
		return false, TranslateError(result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MissingEmbeddings returns up to limit live records without a vector, oldest first
func (s *Store) MissingEmbeddings(ctx context.Context, limit int) ([]*MemoryRecord, error) {
	var recs []*MemoryRecord
	err := s.db.WithContext(ctx).
		Where("tombstoned_at IS NULL AND embedding IS NULL").
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, TranslateError(err)
	}
	return recs, nil
}

// PurgeTombstoned hard-deletes records tombstoned before cutoff and returns their ids
func (s *Store) PurgeTombstoned(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&MemoryRecord{}).
			Where("tombstoned_at IS NOT NULL AND tombstoned_at < ?", cutoff.UTC()).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Where("id IN ?", ids).Delete(&MemoryRecord{}).Error
	})
	if err != nil {
		return nil, TranslateError(err)
	}
	return ids, nil
}

// LiveScopes returns the distinct scopes that hold live records
func (s *Store) LiveScopes(ctx context.Context) ([]string, error) {
	var scopes []string
	err := s.db.WithContext(ctx).Model(&MemoryRecord{}).
		Where("tombstoned_at IS NULL").
		Distinct().
		Order("scope").
		Pluck("scope", &scopes).Error
	if err != nil {
		return nil, TranslateError(err)
	}
	return scopes, nil
}

// CountLive returns the number of live records, optionally limited to a scope
func (s *Store) CountLive(ctx context.Context, scope string) (int64, error) {
	var count int64
	q := s.db.WithContext(ctx).Model(&MemoryRecord{}).Where("tombstoned_at IS NULL")
	if scope != "" {
		q = q.Where("scope = ?", scope)
	}
	if err := q.Count(&count).Error; err != nil {
		return 0, TranslateError(err)
	}
	return count, nil
}

// Ping reports whether the store is reachable
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return TranslateError(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return TranslateError(err)
	}
	return nil
}
