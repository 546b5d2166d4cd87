// Package history records every write of a data file as a git commit.
//
// It uses go-git so no git binary is needed.
package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Author identifies who commits.
type Author struct {
	Name  string
	Email string
}

// Recorder commits a data file after each write. It implements
// atomicfile.Observer.
type Recorder struct {
	dir    string
	author Author
	repo   *gogit.Repository

	mu sync.Mutex
}

// Open returns a Recorder for the repository at dir, initializing it when
// needed.
func Open(dir string, author Author) (*Recorder, error) {
	if author.Name == "" || author.Email == "" {
		return nil, errors.New("history: author name and email are required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: data directory
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		if !errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("failed to open git repo: %w", err)
		}
		if repo, err = gogit.PlainInit(dir, false); err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = author.Name
		cfg.User.Email = author.Email
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	}
	return &Recorder{dir: dir, author: author, repo: repo}, nil
}

// OnWrite stages path and commits it. Nothing is committed when the content
// did not change.
func (r *Recorder) OnWrite(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rel, err := filepath.Rel(r.dir, path)
	if err != nil {
		return fmt.Errorf("failed to locate %s in %s: %w", path, r.dir, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return fmt.Errorf("%s is outside of %s", path, r.dir)
	}
	w, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if _, err := w.Add(rel); err != nil {
		return fmt.Errorf("failed to stage %s: %w", rel, err)
	}
	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	if s, ok := status[rel]; !ok || s.Staging == gogit.Unmodified {
		return nil
	}
	sig := &object.Signature{Name: r.author.Name, Email: r.author.Email, When: time.Now()}
	if _, err := w.Commit("Update "+rel, &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Count returns the number of commits reachable from HEAD.
func (r *Recorder) Count() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.repo.Head(); err != nil {
		// No commit yet.
		return 0, nil
	}
	iter, err := r.repo.Log(&gogit.LogOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()
	n := 0
	err = iter.ForEach(func(*object.Commit) error {
		n++
		return nil
	})
	return n, err
}
