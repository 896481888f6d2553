// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package git

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// Push pushes to the named remote. pat authenticates HTTP remotes; local
// and SSH-agent remotes push without it.
func (r *Repository) Push(remote, pat string) error {
	opts := &git.PushOptions{RemoteName: remote}
	if pat != "" {
		opts.Auth = basicAuth(pat)
	}

	err := r.repo.Push(opts)
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to push: %w", err)
	}
	return nil
}

func basicAuth(pat string) transport.AuthMethod {
	return &http.BasicAuth{
		Username: "git", // Can be anything except empty string
		Password: pat,
	}
}
