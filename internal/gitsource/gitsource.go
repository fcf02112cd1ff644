// Package gitsource materializes the repository's source tree at a
// given commit. The daemon keeps a bare mirror under the data
// directory and clones disposable worktrees from it per run, so a
// build never depends on the remote being reachable at stage time
// once the mirror has the commit.
package gitsource

import (
	"context"
	"errors"
	"fmt"
	"os"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"capstan/internal/services"
)

// Source manages the mirror for one repository URL.
type Source struct {
	url       string
	mirrorDir string
}

// New constructs a Source mirroring url into mirrorDir.
func New(url, mirrorDir string) *Source {
	return &Source{url: url, mirrorDir: mirrorDir}
}

// Sync clones the mirror if absent, otherwise fetches the remote.
func (s *Source) Sync(ctx context.Context) error {
	repo, err := git.PlainOpen(s.mirrorDir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		_, err = git.PlainCloneContext(ctx, s.mirrorDir, true, &git.CloneOptions{
			URL:    s.url,
			Mirror: true,
		})
		if err != nil {
			return services.Wrap(services.ErrNetwork, "", "clone mirror", s.url, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("open mirror %s: %w", s.mirrorDir, err)
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: git.DefaultRemoteName,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return services.Wrap(services.ErrNetwork, "", "fetch mirror", s.url, err)
	}
	return nil
}

// Checkout clones a disposable worktree from the mirror into dstDir
// and checks out the given commit. The commit may be abbreviated; it
// is resolved against the mirror. The caller owns dstDir cleanup.
func (s *Source) Checkout(ctx context.Context, commit, dstDir string) error {
	if commit == "" {
		return services.Wrap(services.ErrValidation, "", "checkout", "commit identifier required", nil)
	}
	if err := os.RemoveAll(dstDir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("prepare worktree dir: %w", err)
	}

	clone, err := git.PlainCloneContext(ctx, dstDir, false, &git.CloneOptions{
		URL: s.mirrorDir,
	})
	if err != nil {
		return fmt.Errorf("clone worktree from mirror: %w", err)
	}

	hash, err := clone.ResolveRevision(plumbing.Revision(commit))
	if err != nil {
		return services.Wrap(services.ErrValidation, "", "resolve commit", commit, err)
	}

	worktree, err := clone.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return fmt.Errorf("checkout %s: %w", commit, err)
	}
	return nil
}
