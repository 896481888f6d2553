// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

var (
	// punctRegex matches everything that is not a letter, digit or space
	punctRegex = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	// multiSpaceRegex matches runs of whitespace
	multiSpaceRegex = regexp.MustCompile(`\s+`)
)

// Normalize case-folds text, strips punctuation and collapses whitespace
func Normalize(text string) string {
	normalized := strings.ToLower(text)
	normalized = punctRegex.ReplaceAllString(normalized, " ")
	normalized = multiSpaceRegex.ReplaceAllString(normalized, " ")
	return strings.TrimSpace(normalized)
}

// Tokenize splits text into normalized terms. Stop words are kept because
// memory content is short and every term carries signal.
func Tokenize(text string) []string {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}
	return strings.Fields(normalized)
}

// Fingerprint returns the deduplication key for content. Two contents that
// differ only in case, punctuation or spacing share a fingerprint. Content
// with no letters or digits is keyed on its trimmed text instead, so "!!!"
// and "???" stay distinct.
func Fingerprint(content string) string {
	normalized := Normalize(content)
	if normalized == "" {
		return ContentHash(strings.TrimSpace(content))
	}
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:16])
}

// ContentHash returns a hash of the exact content, used as an embedding cache key
func ContentHash(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:16])
}

// Similarity returns the Jaccard similarity of the token sets of a and b
func Similarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		if strings.TrimSpace(a) == strings.TrimSpace(b) {
			return 1
		}
		return 0
	}

	intersection := 0
	for term := range setA {
		if _, ok := setB[term]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, term := range Tokenize(text) {
		set[term] = struct{}{}
	}
	return set
}

// ChecksumIDs returns an order-independent digest of a set of ids.
// The record store and both indexes use it to detect divergence.
func ChecksumIDs(ids []string) string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	h := sha256.New()
	for _, id := range sorted {
		h.Write([]byte(id))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Truncate cuts text to at most max runes, keeping the tail and marking the
// cut with a leading ellipsis. Recent lines of a log matter most.
func Truncate(text string, max int) string {
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return text
	}
	return "..." + strings.TrimSpace(string(runes[len(runes)-max:]))
}
