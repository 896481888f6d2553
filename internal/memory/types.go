// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package memory

import (
	"fmt"
	"strings"
)

// DefaultScope is used when a write does not name a scope
const DefaultScope = "default"

// Kind classifies a memory record
type Kind string

// Kind constants
const (
	KindFact           Kind = "fact"
	KindEvent          Kind = "event"
	KindPreference     Kind = "preference"
	KindInsight        Kind = "insight"
	KindSessionSummary Kind = "session_summary"
)

// ValidKinds returns all valid kinds
func ValidKinds() []Kind {
	return []Kind{
		KindFact,
		KindEvent,
		KindPreference,
		KindInsight,
		KindSessionSummary,
	}
}

// KindNames returns the valid kinds as strings, for tool schemas and flag help
func KindNames() []string {
	kinds := ValidKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return names
}

// Valid reports whether k is one of the known kinds
func (k Kind) Valid() bool {
	for _, valid := range ValidKinds() {
		if k == valid {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer
func (k Kind) String() string {
	return string(k)
}

// ParseKind converts user input into a Kind.
// Input is case-insensitive and "session-summary" is accepted as an alias.
func ParseKind(s string) (Kind, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")

	k := Kind(normalized)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q (valid: %s)", ErrInvalidKind, s, strings.Join(KindNames(), ", "))
	}
	return k, nil
}

// ScopeOrDefault returns scope, or DefaultScope when scope is blank
func ScopeOrDefault(scope string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return DefaultScope
	}
	return scope
}
