package gitsource_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"capstan/internal/gitsource"
	"capstan/internal/services"
)

// seedRepo creates a local repository with two commits and returns
// its path plus both commit hashes.
func seedRepo(t *testing.T) (string, string, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit failed: %v", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree failed: %v", err)
	}

	commit := func(name, content string) string {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if _, err := worktree.Add(name); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
		hash, err := worktree.Commit("add "+name, &git.CommitOptions{
			Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
		})
		if err != nil {
			t.Fatalf("commit %s: %v", name, err)
		}
		return hash.String()
	}

	first := commit("main.go", "package main\n")
	second := commit("other.go", "package main\n// second\n")
	return dir, first, second
}

func TestSyncClonesAndCheckoutMaterializesCommit(t *testing.T) {
	repoDir, first, second := seedRepo(t)
	mirror := filepath.Join(t.TempDir(), "mirror")
	src := gitsource.New(repoDir, mirror)
	ctx := context.Background()

	if err := src.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	// Second sync fetches and must not fail when up to date.
	if err := src.Sync(ctx); err != nil {
		t.Fatalf("re-Sync failed: %v", err)
	}

	workdir := filepath.Join(t.TempDir(), "work")
	if err := src.Checkout(ctx, first, workdir); err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(workdir, "main.go")); err != nil {
		t.Fatalf("expected main.go in worktree: %v", err)
	}
	if _, err := os.Stat(filepath.Join(workdir, "other.go")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("other.go should not exist at first commit: %v", err)
	}

	if err := src.Checkout(ctx, second, workdir); err != nil {
		t.Fatalf("Checkout at second commit failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(workdir, "other.go")); err != nil {
		t.Fatalf("expected other.go at second commit: %v", err)
	}
}

func TestCheckoutResolvesAbbreviatedCommit(t *testing.T) {
	repoDir, first, _ := seedRepo(t)
	mirror := filepath.Join(t.TempDir(), "mirror")
	src := gitsource.New(repoDir, mirror)
	ctx := context.Background()

	if err := src.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	workdir := filepath.Join(t.TempDir(), "work")
	if err := src.Checkout(ctx, first[:8], workdir); err != nil {
		t.Fatalf("Checkout with short hash failed: %v", err)
	}
}

func TestCheckoutRejectsEmptyCommit(t *testing.T) {
	src := gitsource.New("unused", filepath.Join(t.TempDir(), "mirror"))
	err := src.Checkout(context.Background(), "", t.TempDir())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSyncUnreachableRemoteIsNetworkFailure(t *testing.T) {
	src := gitsource.New(filepath.Join(t.TempDir(), "missing"), filepath.Join(t.TempDir(), "mirror"))
	err := src.Sync(context.Background())
	if !errors.Is(err, services.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}
