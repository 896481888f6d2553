// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"context"

	"github.com/flandriendev/briven/internal/memory"
	"gorm.io/gorm"
)

// ScanOptions filters a full scan
type ScanOptions struct {
	Scope             string      // empty means all scopes
	Kind              memory.Kind // empty means all kinds
	IncludeTombstoned bool
	PageSize          int
}

// Cursor iterates over records ordered by created_at then id, one page per
// round trip.
// It holds no open rows between pages, so writers are never blocked by a
// slow consumer.
type Cursor struct {
	db   *gorm.DB
	ctx  context.Context
	opts ScanOptions
	page []*MemoryRecord
	pos  int
	last *MemoryRecord
	done bool
	err  error
}

// Scan returns a cursor over the store
func (s *Store) Scan(ctx context.Context, opts ScanOptions) *Cursor {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &Cursor{db: s.db, ctx: ctx, opts: opts}
}

// Next advances the cursor. It returns false at the end or on error.
func (c *Cursor) Next() bool {
	if c.err != nil {
		return false
	}
	c.pos++
	if c.pos < len(c.page) {
		return true
	}
	if c.done {
		return false
	}
	if err := c.fetch(); err != nil {
		c.err = err
		return false
	}
	c.pos = 0
	return len(c.page) > 0
}

func (c *Cursor) fetch() error {
	q := c.db.WithContext(c.ctx).Model(&MemoryRecord{})
	if c.opts.Scope != "" {
		q = q.Where("scope = ?", c.opts.Scope)
	}
	if !c.opts.IncludeTombstoned {
		q = q.Where("tombstoned_at IS NULL")
	}
	if c.opts.Kind != "" {
		q = q.Where("kind = ?", c.opts.Kind)
	}
	if c.last != nil {
		q = q.Where("(created_at > ? OR (created_at = ? AND id > ?))",
			c.last.CreatedAt, c.last.CreatedAt, c.last.ID)
	}

	var page []*MemoryRecord
	if err := q.Order("created_at ASC, id ASC").Limit(c.opts.PageSize).Find(&page).Error; err != nil {
		return TranslateError(err)
	}

	c.page = page
	if len(page) < c.opts.PageSize {
		c.done = true
	}
	if len(page) > 0 {
		c.last = page[len(page)-1]
	}
	return nil
}

// Record returns the current record
func (c *Cursor) Record() *MemoryRecord {
	if c.pos < 0 || c.pos >= len(c.page) {
		return nil
	}
	return c.page[c.pos]
}

// Reset rewinds the cursor to the beginning
func (c *Cursor) Reset() {
	c.page = nil
	c.pos = 0
	c.last = nil
	c.done = false
	c.err = nil
}

// Err returns the first error encountered
func (c *Cursor) Err() error {
	return c.err
}

// Each calls fn for every record matched by opts, stopping at the first error
func (s *Store) Each(ctx context.Context, opts ScanOptions, fn func(*MemoryRecord) error) error {
	cur := s.Scan(ctx, opts)
	for cur.Next() {
		if err := fn(cur.Record()); err != nil {
			return err
		}
	}
	return cur.Err()
}
