// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sessionlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// dateLayout is the file name format of a daily log, without extension
const dateLayout = "2006-01-02"

// sourcePrefix tags records written from a daily log
const sourcePrefix = "session-log:"

// Layout maps days onto files in the log directory
type Layout struct {
	Dir string
}

// NewLayout creates a layout rooted at dir
func NewLayout(dir string) *Layout {
	return &Layout{Dir: dir}
}

// DailyPath returns the file for the given day
func (l *Layout) DailyPath(day time.Time) string {
	return filepath.Join(l.Dir, fmt.Sprintf("%s.md", day.Format(dateLayout)))
}

// EnsureDir creates the log directory if it doesn't exist
func (l *Layout) EnsureDir() error {
	if err := os.MkdirAll(l.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create session log directory: %w", err)
	}
	return nil
}

// ParseDailyName extracts the day from a daily log file name
func ParseDailyName(path string) (time.Time, bool) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, ".md") {
		return time.Time{}, false
	}
	day, err := time.Parse(dateLayout, strings.TrimSuffix(name, ".md"))
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// SourceFor returns the provenance tag for a daily log file
func SourceFor(path string) string {
	return sourcePrefix + filepath.Base(path)
}
