// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package memory

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound means the id is absent or was already hard-deleted
	ErrNotFound = errors.New("memory not found")

	// ErrDuplicateID means an insert reused an existing id. Ids are generated
	// internally, so this always indicates a bug upstream.
	ErrDuplicateID = errors.New("duplicate memory id")

	// ErrEmbeddingUnavailable means the embedding provider failed or timed out
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrIndexCorrupt means a derived index disagrees with the record store
	ErrIndexCorrupt = errors.New("index corrupt")

	// ErrStoreUnavailable means the durability layer could not serve the request
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidKind is returned for kinds outside the closed set
	ErrInvalidKind = errors.New("invalid kind")

	// ErrEmptyContent is returned when a write carries no content
	ErrEmptyContent = errors.New("content cannot be empty")
)

// OpError attaches operation context to an error
type OpError struct {
	Op    string
	Scope string
	ID    string
	Err   error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Scope != "" {
		b.WriteString(" scope=")
		b.WriteString(e.Scope)
	}
	if e.ID != "" {
		b.WriteString(" id=")
		b.WriteString(e.ID)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Wrap returns err wrapped in an OpError, or nil when err is nil
func Wrap(op, scope, id string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Scope: scope, ID: id, Err: err}
}

// IsFatal reports whether err must be surfaced to the caller rather than
// handled locally by retrying, rebuilding or degrading.
func IsFatal(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrDuplicateID)
}
