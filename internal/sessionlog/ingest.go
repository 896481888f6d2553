// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package sessionlog turns the orchestrator's daily log files into
// session_summary records through the normal write path.
package sessionlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/flandriendev/briven/internal/database"
	"github.com/flandriendev/briven/internal/lifecycle"
	"github.com/flandriendev/briven/internal/logging"
	"github.com/flandriendev/briven/internal/memory"
	"github.com/sirupsen/logrus"
)

// ErrNotDailyLog is returned for files not named YYYY-MM-DD.md
var ErrNotDailyLog = errors.New("not a daily session log")

// DefaultMaxChars bounds the text kept from one daily log
const DefaultMaxChars = 3000

// Writer is the part of the lifecycle manager the ingester needs
type Writer interface {
	Write(ctx context.Context, req lifecycle.WriteRequest) (lifecycle.WriteResult, error)
	Replace(ctx context.Context, id, content string) (lifecycle.WriteResult, error)
	LatestBySource(ctx context.Context, scope, source string) (*database.MemoryRecord, error)
}

// Result describes what ingesting one file did
type Result struct {
	File     string `json:"file"`
	ID       string `json:"id,omitempty"`
	Action   string `json:"action"` // created, unchanged, replaced or skipped
	Previous string `json:"previous,omitempty"`
}

// Ingester writes daily logs as session summaries. Re-ingesting an unchanged
// file is a no-op; a file that grew replaces its previous summary.
type Ingester struct {
	writer   Writer
	layout   *Layout
	scope    string
	maxChars int
	log      *logrus.Entry
}

// NewIngester creates an ingester over dir
func NewIngester(writer Writer, dir, scope string, maxChars int, log *logrus.Entry) *Ingester {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Ingester{
		writer:   writer,
		layout:   NewLayout(dir),
		scope:    memory.ScopeOrDefault(scope),
		maxChars: maxChars,
		log:      logging.OrNop(log),
	}
}

// Layout returns the file layout the ingester reads
func (in *Ingester) Layout() *Layout {
	return in.layout
}

// Summary renders the record content for a day's log text
func Summary(day time.Time, text string, maxChars int) string {
	text = memory.Truncate(strings.TrimSpace(text), maxChars)
	return fmt.Sprintf("Session %s: %s", day.Format(dateLayout), text)
}

// IngestFile ingests one daily log
func (in *Ingester) IngestFile(ctx context.Context, path string) (*Result, error) {
	day, ok := ParseDailyName(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotDailyLog, path)
	}
	result := &Result{File: path}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session log: %w", err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		result.Action = "skipped"
		return result, nil
	}

	content := Summary(day, string(raw), in.maxChars)
	source := SourceFor(path)
	fields := logrus.Fields{"op": "ingest", "scope": in.scope, "file": path}

	prev, err := in.writer.LatestBySource(ctx, in.scope, source)
	switch {
	case err == nil && prev.Content == content:
		result.ID = prev.ID
		result.Action = "unchanged"
		return result, nil
	case err == nil:
		res, err := in.writer.Replace(ctx, prev.ID, content)
		if err != nil {
			return nil, err
		}
		result.ID = res.ID
		result.Previous = prev.ID
		result.Action = "replaced"
	case errors.Is(err, memory.ErrNotFound):
		res, err := in.writer.Write(ctx, lifecycle.WriteRequest{
			Content: content,
			Kind:    memory.KindSessionSummary,
			Source:  source,
			Scope:   in.scope,
		})
		if err != nil {
			return nil, err
		}
		result.ID = res.ID
		result.Action = "created"
		if res.Deduplicated {
			result.Action = "unchanged"
		}
	default:
		return nil, err
	}

	in.log.WithFields(fields).WithField("id", result.ID).Infof("session log %s", result.Action)
	return result, nil
}

// IngestDay ingests the log for a given day
func (in *Ingester) IngestDay(ctx context.Context, day time.Time) (*Result, error) {
	return in.IngestFile(ctx, in.layout.DailyPath(day))
}

// IngestDir ingests every daily log in the directory, oldest first. A
// missing directory yields no results.
func (in *Ingester) IngestDir(ctx context.Context) ([]*Result, error) {
	entries, err := os.ReadDir(in.layout.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list session logs: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := ParseDailyName(e.Name()); ok {
			paths = append(paths, filepath.Join(in.layout.Dir, e.Name()))
		}
	}
	sort.Strings(paths)

	results := make([]*Result, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := in.IngestFile(ctx, p)
		if err != nil {
			in.log.WithError(err).WithFields(logrus.Fields{"op": "ingest", "file": p}).Warn("session log ingestion failed")
			if memory.IsFatal(err) {
				return results, err
			}
			continue
		}
		results = append(results, res)
	}
	return results, nil
}
