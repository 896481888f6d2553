// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package locking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DefaultLeaseTTL is the default time-to-live for leases
const DefaultLeaseTTL = 5 * time.Minute

var errLeaseTaken = errors.New("lease taken")

// Locker hands out database leases
type Locker struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewLocker creates a new locker instance
func NewLocker(db *gorm.DB) *Locker {
	return &Locker{
		db:  db,
		ttl: DefaultLeaseTTL,
	}
}

// WithTTL sets a custom TTL for leases
func (l *Locker) WithTTL(ttl time.Duration) *Locker {
	l.ttl = ttl
	return l
}

// Acquire claims the named lease for holder.
// Returns true if the lease is now held by holder, false if someone else holds it.
func (l *Locker) Acquire(ctx context.Context, name, holder string) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(l.ttl)

	var acquired bool
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Lease
		err := tx.Where("name = ?", name).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			lease := Lease{
				Name:       name,
				Version:    1,
				Holder:     holder,
				AcquiredAt: now,
				ExpiresAt:  expiresAt,
			}
			if err := tx.Create(&lease).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return errLeaseTaken
				}
				return err
			}
			acquired = true
			return nil
		}
		if err != nil {
			return err
		}

		if !existing.IsExpired(now) && existing.Holder != holder {
			return nil
		}

		// Take over, but only if nobody else did since we read it
		result := tx.Model(&Lease{}).
			Where("name = ? AND version = ?", name, existing.Version).
			Updates(map[string]interface{}{
				"holder":      holder,
				"acquired_at": now,
				"expires_at":  expiresAt,
				"version":     existing.Version + 1,
			})
		if result.Error != nil {
			return result.Error
		}
		acquired = result.RowsAffected > 0
		return nil
	})
	if errors.Is(err, errLeaseTaken) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}
	return acquired, nil
}

// Release drops a lease held by holder
func (l *Locker) Release(ctx context.Context, name, holder string) error {
	return l.db.WithContext(ctx).
		Where("name = ? AND holder = ?", name, holder).
		Delete(&Lease{}).Error
}

// ReleaseAll drops every lease held by holder
func (l *Locker) ReleaseAll(ctx context.Context, holder string) error {
	return l.db.WithContext(ctx).Where("holder = ?", holder).Delete(&Lease{}).Error
}

// IsHeld reports whether the lease is currently held, and by whom
func (l *Locker) IsHeld(ctx context.Context, name string) (bool, string, error) {
	var lease Lease
	err := l.db.WithContext(ctx).Where("name = ?", name).First(&lease).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	if lease.IsExpired(time.Now().UTC()) {
		return false, "", nil
	}
	return true, lease.Holder, nil
}

// Extend pushes out the expiry of a lease held by holder
func (l *Locker) Extend(ctx context.Context, name, holder string) error {
	expiresAt := time.Now().UTC().Add(l.ttl)

	result := l.db.WithContext(ctx).Model(&Lease{}).
		Where("name = ? AND holder = ?", name, holder).
		Update("expires_at", expiresAt)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return &LeaseError{Name: name}
	}
	return nil
}

// CleanupExpired removes all expired leases
func (l *Locker) CleanupExpired(ctx context.Context) (int64, error) {
	result := l.db.WithContext(ctx).Where("expires_at < ?", time.Now().UTC()).Delete(&Lease{})
	return result.RowsAffected, result.Error
}

// WithLease runs fn while holding the named lease and releases it afterwards.
// The lease is extended every half TTL while fn runs, so long jobs keep it.
// It returns a *LeaseError without running fn when the lease is taken.
func (l *Locker) WithLease(ctx context.Context, name, holder string, fn func(context.Context) error) error {
	acquired, err := l.Acquire(ctx, name, holder)
	if err != nil {
		return err
	}
	if !acquired {
		_, current, _ := l.IsHeld(ctx, name)
		return &LeaseError{Name: name, Holder: current}
	}

	// Release even if ctx was cancelled mid-run
	defer l.Release(context.WithoutCancel(ctx), name, holder) //nolint:errcheck

	done := make(chan struct{})
	defer close(done)
	go l.keepAlive(ctx, name, holder, done)

	return fn(ctx)
}

func (l *Locker) keepAlive(ctx context.Context, name, holder string, done <-chan struct{}) {
	interval := l.ttl / 2
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A lost lease stays lost; the next run re-acquires it
			if err := l.Extend(ctx, name, holder); err != nil {
				return
			}
		}
	}
}
