// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package backup commits snapshots of the record store to a git repository.
package backup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/flandriendev/briven/internal/crypto"
	"github.com/flandriendev/briven/internal/database"
	"github.com/flandriendev/briven/internal/git"
	"github.com/flandriendev/briven/internal/logging"
	"github.com/flandriendev/briven/internal/snapshot"
)

// Files written into the backup repository
const (
	SnapshotFile = "snapshot.yaml"
	DigestFile   = "snapshot.sha256"
)

// Options configure one backup run
type Options struct {
	Dir    string
	Remote string
	PAT    string
	// Key seals the committed snapshot
	Key []byte
}

// Result describes one backup run
type Result struct {
	Records int `json:"records"`
	// Commit is set only when this run committed
	Commit string `json:"commit,omitempty"`
	// Head is the latest backup commit after the run
	Head   string `json:"head,omitempty"`
	Pushed bool   `json:"pushed"`
}

// Run exports the store and commits the snapshot when it changed. The
// digest of the unsealed snapshot decides whether anything changed, so
// sealed backups do not commit on every run. Tracked files edited by hand
// are rewritten even when the digest matches.
func Run(ctx context.Context, store *database.Store, opts Options, log *logrus.Entry) (*Result, error) {
	log = logging.OrNop(log)

	repo, err := git.Open(opts.Dir)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	n, err := snapshot.Export(ctx, store, &buf, snapshot.Options{Stable: true})
	if err != nil {
		return nil, err
	}
	res := &Result{Records: n}

	sum := sha256.Sum256(buf.Bytes())
	digest := hex.EncodeToString(sum[:])
	digestPath := filepath.Join(opts.Dir, DigestFile)
	if prev, err := os.ReadFile(digestPath); err == nil && strings.TrimSpace(string(prev)) == digest {
		clean, err := repo.IsClean()
		if err != nil {
			return nil, err
		}
		if clean {
			log.WithField("records", n).Debug("backup unchanged")
			return finish(repo, opts, res)
		}
		log.Warn("backup worktree modified, rewriting snapshot")
	}

	data := buf.Bytes()
	if len(opts.Key) > 0 {
		if data, err = crypto.Seal(data, opts.Key); err != nil {
			return nil, err
		}
	}

	snapPath := filepath.Join(opts.Dir, SnapshotFile)
	if err := writeFile(snapPath, data); err != nil {
		return nil, err
	}
	if err := writeFile(digestPath, []byte(digest+"\n")); err != nil {
		return nil, err
	}

	hash, err := repo.CommitFiles([]string{snapPath, digestPath}, fmt.Sprintf("backup: %d records", n))
	if err != nil {
		return nil, err
	}
	res.Commit = hash
	if hash != "" {
		log.WithFields(logrus.Fields{"records": n, "commit": hash}).Info("backup committed")
	}

	return finish(repo, opts, res)
}

func finish(repo *git.Repository, opts Options, res *Result) (*Result, error) {
	history, err := repo.History(1)
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		res.Head = history[0].Hash
	}
	if err := push(repo, opts, res); err != nil {
		return nil, err
	}
	return res, nil
}

func push(repo *git.Repository, opts Options, res *Result) error {
	if opts.Remote == "" {
		return nil
	}
	if err := repo.SetRemote(git.DefaultRemote, opts.Remote); err != nil {
		return err
	}
	if err := repo.Push(git.DefaultRemote, opts.PAT); err != nil {
		return err
	}
	res.Pushed = true
	return nil
}

// writeFile replaces path atomically
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
