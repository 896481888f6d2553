// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package locking

import "sync"

// ScopeLocks serializes mutations within a scope while letting different
// scopes proceed in parallel. LockAll excludes every scope at once.
type ScopeLocks struct {
	all    sync.RWMutex
	mu     sync.Mutex
	scopes map[string]*sync.Mutex
}

// NewScopeLocks creates an empty lock table
func NewScopeLocks() *ScopeLocks {
	return &ScopeLocks{scopes: make(map[string]*sync.Mutex)}
}

func (s *ScopeLocks) get(scope string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.scopes[scope]
	if !ok {
		m = &sync.Mutex{}
		s.scopes[scope] = m
	}
	return m
}

// Lock takes the lock for scope and returns its release func
func (s *ScopeLocks) Lock(scope string) func() {
	s.all.RLock()
	m := s.get(scope)
	m.Lock()
	return func() {
		m.Unlock()
		s.all.RUnlock()
	}
}

// LockAll waits for every in-flight scope lock and blocks new ones
func (s *ScopeLocks) LockAll() func() {
	s.all.Lock()
	return s.all.Unlock
}

// Len returns the number of scopes seen so far
func (s *ScopeLocks) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scopes)
}
