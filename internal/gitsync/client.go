package gitsync

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Client defines the clone capability used by the sync engine.
type Client interface {
	// Clone checks out a repository into cfg.Dir.
	Clone(ctx context.Context, cfg CloneConfig) (*Repository, error)
}

// CloneConfig contains configuration for cloning a repository.
type CloneConfig struct {
	// URL is the repository URL to clone.
	URL string

	// Branch is the branch to check out; empty means the remote HEAD.
	Branch string

	// Dir is the directory to clone into.
	Dir string
}

// Repository is a local checkout produced by Clone.
type Repository struct {
	// Dir is the checkout directory.
	Dir string

	repo *git.Repository
}

// Cleanup removes the checkout directory. It is safe to call more than
// once and never fails; removal problems are logged.
func (r *Repository) Cleanup() {
	if r == nil || r.Dir == "" {
		return
	}
	if err := os.RemoveAll(r.Dir); err != nil {
		slog.Warn("failed to remove clone directory", "dir", r.Dir, "error", err)
	}
	r.Dir = ""
	r.repo = nil
}

type defaultClient struct{}

// NewDefaultClient creates a go-git based Client that performs shallow,
// single-branch clones.
func NewDefaultClient() Client {
	return &defaultClient{}
}

// Clone checks out a repository into cfg.Dir.
func (*defaultClient) Clone(ctx context.Context, cfg CloneConfig) (*Repository, error) {
	options := &git.CloneOptions{
		URL:          cfg.URL,
		Depth:        1,
		SingleBranch: true,
	}
	if cfg.Branch != "" {
		options.ReferenceName = plumbing.NewBranchReferenceName(cfg.Branch)
	}

	repo, err := git.PlainCloneContext(ctx, cfg.Dir, false, options)
	if err != nil {
		return nil, fmt.Errorf("failed to clone repository %s: %w", cfg.URL, err)
	}
	slog.Debug("cloned repository", "url", cfg.URL, "branch", cfg.Branch, "dir", cfg.Dir)
	return &Repository{Dir: cfg.Dir, repo: repo}, nil
}
