// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sessionlog

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is how long a file must stay quiet before it is ingested
const DefaultDebounce = 500 * time.Millisecond

// Watcher re-ingests daily logs as the orchestrator appends to them
type Watcher struct {
	ingester *Ingester
	debounce time.Duration
	// OnIngest, when set, receives every successful ingestion
	OnIngest func(*Result)
}

// NewWatcher creates a watcher over the ingester's directory
func NewWatcher(in *Ingester, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{ingester: in, debounce: debounce}
}

// Run ingests what is already on disk, then follows writes until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	in := w.ingester
	if err := in.layout.EnsureDir(); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(in.layout.Dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", in.layout.Dir, err)
	}

	results, err := in.IngestDir(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		w.notify(r)
	}
	in.log.WithField("dir", in.layout.Dir).Info("watching session logs")

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()
	pending := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Write) {
				continue
			}
			if _, ok := ParseDailyName(evt.Name); ok {
				pending[evt.Name] = time.Now()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			in.log.WithError(err).Warn("session log watcher error")
		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < w.debounce {
					continue
				}
				delete(pending, path)
				res, err := in.IngestFile(ctx, path)
				if err != nil {
					in.log.WithError(err).WithFields(logrus.Fields{"op": "ingest", "file": path}).Warn("session log ingestion failed")
					continue
				}
				w.notify(res)
			}
		}
	}
}

func (w *Watcher) notify(r *Result) {
	if w.OnIngest != nil && r != nil {
		w.OnIngest(r)
	}
}
