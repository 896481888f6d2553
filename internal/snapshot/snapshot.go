// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package snapshot exports the record table as YAML and imports it back.
// Embeddings are not part of a snapshot; imported records are re-embedded.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/flandriendev/briven/internal/crypto"
	"github.com/flandriendev/briven/internal/database"
	"github.com/flandriendev/briven/internal/memory"
	"gopkg.in/yaml.v3"
)

// Version is the snapshot format version
const Version = 1

// KeyEnv names the environment variable holding the base64 sealing key
const KeyEnv = "BRIVEN_SNAPSHOT_KEY"

// ErrKeyRequired is returned when a sealed snapshot is read without a key
var ErrKeyRequired = errors.New("snapshot is encrypted: key required")

// Document is the top level of a snapshot file
type Document struct {
	Version    int       `yaml:"version"`
	ExportedAt time.Time `yaml:"exported_at,omitempty"`
	Scope      string    `yaml:"scope,omitempty"`
	Records    []Record  `yaml:"records"`
}

// Record is one memory in a snapshot
type Record struct {
	ID           string     `yaml:"id"`
	Scope        string     `yaml:"scope"`
	Kind         string     `yaml:"kind"`
	Source       string     `yaml:"source,omitempty"`
	Content      string     `yaml:"content"`
	CreatedAt    time.Time  `yaml:"created_at"`
	UpdatedAt    time.Time  `yaml:"updated_at"`
	TombstonedAt *time.Time `yaml:"tombstoned_at,omitempty"`
	SupersededBy string     `yaml:"superseded_by,omitempty"`
}

// Options control export and import
type Options struct {
	// Scope limits an export or import to one scope; empty means every scope
	Scope string
	// Key seals the export, and opens a sealed import
	Key []byte
	// Stable omits the export timestamp so unchanged stores export identical bytes
	Stable bool
}

// KeyFromEnv decodes the key in KeyEnv. An unset variable yields a nil key,
// or an error when required is set.
func KeyFromEnv(required bool) ([]byte, error) {
	encoded := os.Getenv(KeyEnv)
	if encoded == "" {
		if required {
			return nil, fmt.Errorf("%s must be set to seal a snapshot", KeyEnv)
		}
		return nil, nil
	}
	key, err := crypto.StringToKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyEnv, err)
	}
	return key, nil
}

// Importer stores records carried over from a snapshot
type Importer interface {
	Import(ctx context.Context, rec *database.MemoryRecord) error
}

// ImportResult counts what an import did
type ImportResult struct {
	Imported int `json:"imported"`
	// Skipped records had an id already present in the store
	Skipped int `json:"skipped"`
	// Duplicates were live content already held under another id
	Duplicates int `json:"duplicates"`
}

// Export writes every record, tombstones included, to w
func Export(ctx context.Context, store *database.Store, w io.Writer, opts Options) (int, error) {
	doc := Document{
		Version: Version,
		Scope:   opts.Scope,
		Records: []Record{},
	}
	if !opts.Stable {
		doc.ExportedAt = time.Now().UTC()
	}

	err := store.Each(ctx, database.ScanOptions{Scope: opts.Scope, IncludeTombstoned: true}, func(rec *database.MemoryRecord) error {
		doc.Records = append(doc.Records, fromModel(rec))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read records: %w", err)
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if len(opts.Key) > 0 {
		if data, err = crypto.Seal(data, opts.Key); err != nil {
			return 0, err
		}
	}
	if _, err := w.Write(data); err != nil {
		return 0, fmt.Errorf("failed to write snapshot: %w", err)
	}
	return len(doc.Records), nil
}

// Read parses a snapshot, opening it first if sealed
func Read(r io.Reader, key []byte) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if crypto.IsSealed(data) {
		if len(key) == 0 {
			return nil, ErrKeyRequired
		}
		if data, err = crypto.Open(data, key); err != nil {
			return nil, err
		}
	}

	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if doc.Version != Version {
		return nil, fmt.Errorf("unsupported snapshot version %d", doc.Version)
	}
	return &doc, nil
}

// Import restores a snapshot through imp. Records are applied oldest first
// so superseded links point at records that may already exist.
func Import(ctx context.Context, imp Importer, r io.Reader, opts Options) (*ImportResult, error) {
	doc, err := Read(r, opts.Key)
	if err != nil {
		return nil, err
	}

	res := &ImportResult{}
	for i := range doc.Records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if opts.Scope != "" && doc.Records[i].Scope != opts.Scope {
			continue
		}
		rec, err := toModel(&doc.Records[i])
		if err != nil {
			return res, err
		}
		err = imp.Import(ctx, rec)
		switch {
		case err == nil:
			res.Imported++
		case errors.Is(err, memory.ErrDuplicateID):
			res.Skipped++
		case errors.Is(err, database.ErrFingerprintExists):
			res.Duplicates++
		default:
			return res, err
		}
	}
	return res, nil
}

func fromModel(rec *database.MemoryRecord) Record {
	out := Record{
		ID:           rec.ID,
		Scope:        rec.Scope,
		Kind:         string(rec.Kind),
		Source:       rec.Source,
		Content:      rec.Content,
		CreatedAt:    rec.CreatedAt.UTC(),
		UpdatedAt:    rec.UpdatedAt.UTC(),
		TombstonedAt: rec.TombstonedAt,
	}
	if rec.SupersededBy != nil {
		out.SupersededBy = *rec.SupersededBy
	}
	return out
}

func toModel(r *Record) (*database.MemoryRecord, error) {
	kind, err := memory.ParseKind(r.Kind)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", r.ID, err)
	}
	rec := &database.MemoryRecord{
		ID:           r.ID,
		Scope:        r.Scope,
		Kind:         kind,
		Source:       r.Source,
		Content:      r.Content,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		TombstonedAt: r.TombstonedAt,
	}
	if r.SupersededBy != "" {
		s := r.SupersededBy
		rec.SupersededBy = &s
	}
	return rec, nil
}
