// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package git keeps snapshot backups in a local git repository and pushes
// them to a remote.
package git

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
)

// DefaultRemote is the remote backups are pushed to
const DefaultRemote = "origin"

// Repository wraps go-git repository operations
type Repository struct {
	Path string
	repo *git.Repository
}

// Open opens the repository at path, initialising it if none exists
func Open(path string) (*Repository, error) {
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create repository directory: %w", err)
		}
		repo, err = git.PlainInit(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize git repository: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open git repository: %w", err)
	}

	return &Repository{
		Path: path,
		repo: repo,
	}, nil
}

// SetRemote points the named remote at url, replacing a different URL
func (r *Repository) SetRemote(name, url string) error {
	if current, err := r.RemoteURL(name); err == nil {
		if current == url {
			return nil
		}
		if err := r.repo.DeleteRemote(name); err != nil {
			return fmt.Errorf("failed to replace remote: %w", err)
		}
	}

	_, err := r.repo.CreateRemote(&config.RemoteConfig{
		Name: name,
		URLs: []string{url},
	})
	if err != nil {
		return fmt.Errorf("failed to add remote: %w", err)
	}
	return nil
}

// RemoteURL returns the first URL of a remote
func (r *Repository) RemoteURL(name string) (string, error) {
	remote, err := r.repo.Remote(name)
	if err != nil {
		return "", fmt.Errorf("failed to get remote: %w", err)
	}

	cfg := remote.Config()
	if len(cfg.URLs) == 0 {
		return "", fmt.Errorf("remote has no URLs")
	}

	return cfg.URLs[0], nil
}

// IsClean returns true if no tracked file differs from HEAD. Untracked
// files are ignored.
func (r *Repository) IsClean() (bool, error) {
	worktree, err := r.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("failed to get worktree: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return false, fmt.Errorf("failed to get status: %w", err)
	}
	for _, fs := range status {
		if fs.Staging == git.Untracked && fs.Worktree == git.Untracked {
			continue
		}
		if fs.Staging != git.Unmodified || fs.Worktree != git.Unmodified {
			return false, nil
		}
	}
	return true, nil
}
