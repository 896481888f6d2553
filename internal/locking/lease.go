// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package locking

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Lease is a named, expiring claim stored in the database. Processes sharing
// a database use it so that only one of them runs a maintenance job at a time.
type Lease struct {
	Name       string    `gorm:"primaryKey;size:128" json:"name"`
	Version    int64     `gorm:"not null;default:1" json:"version"`
	Holder     string    `gorm:"not null" json:"holder"`
	AcquiredAt time.Time `gorm:"not null" json:"acquired_at"`
	ExpiresAt  time.Time `gorm:"not null;index" json:"expires_at"`
}

// TableName specifies the table name for Lease
func (Lease) TableName() string {
	return "leases"
}

// MigrateLeases runs migrations for the leases table
func MigrateLeases(db *gorm.DB) error {
	return db.AutoMigrate(&Lease{})
}

// IsExpired returns true if the lease has expired at now
func (l *Lease) IsExpired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// LeaseError is returned by WithLease when another holder owns the lease
type LeaseError struct {
	Name   string
	Holder string
}

func (e *LeaseError) Error() string {
	if e.Holder == "" {
		return fmt.Sprintf("lease %q is held by another process", e.Name)
	}
	return fmt.Sprintf("lease %q is held by %s", e.Name, e.Holder)
}
