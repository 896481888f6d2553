// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package git

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Author and Email sign backup commits
const (
	Author = "Briven"
	Email  = "backup@briven.local"
)

// CommitInfo describes one commit
type CommitInfo struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	When    time.Time `json:"when"`
}

// CommitFiles stages files and commits them. It returns an empty hash
// when the files are unchanged since the last commit.
func (r *Repository) CommitFiles(files []string, message string) (string, error) {
	worktree, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}

	for _, file := range files {
		relPath := file
		if filepath.IsAbs(file) {
			if rel, err := filepath.Rel(r.Path, file); err == nil {
				relPath = rel
			}
		}
		if _, err := worktree.Add(filepath.ToSlash(relPath)); err != nil {
			return "", fmt.Errorf("failed to add file %s: %w", relPath, err)
		}
	}

	status, err := worktree.Status()
	if err != nil {
		return "", fmt.Errorf("failed to get status: %w", err)
	}
	if !hasStaged(status) {
		return "", nil
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  Author,
			Email: Email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return hash.String(), nil
}

// hasStaged ignores untracked files that were never added
func hasStaged(status git.Status) bool {
	for _, fs := range status {
		if fs.Staging != git.Unmodified && fs.Staging != git.Untracked {
			return true
		}
	}
	return false
}

// History returns up to limit commits, newest first. An empty repository
// has no history.
func (r *Repository) History(limit int) ([]CommitInfo, error) {
	head, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}

	iter, err := r.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("failed to get log: %w", err)
	}
	defer iter.Close()

	var out []CommitInfo
	for limit <= 0 || len(out) < limit {
		c, err := iter.Next()
		if err != nil {
			break
		}
		out = append(out, CommitInfo{
			Hash:    c.Hash.String(),
			Message: c.Message,
			When:    c.Author.When,
		})
	}
	return out, nil
}
