// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package logging configures the process-wide logrus logger.
//
// Output always goes to stderr: in stdio mode stdout carries the MCP protocol.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Init sets the global level and formatter
func Init(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	switch format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}

	logrus.SetOutput(os.Stderr)
	logrus.SetLevel(lvl)
	return nil
}

// For returns an entry tagged with the component name
func For(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}

// Nop returns an entry that discards everything
func Nop() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// OrNop returns log, or a discarding entry when log is nil
func OrNop(log *logrus.Entry) *logrus.Entry {
	if log == nil {
		return Nop()
	}
	return log
}
