package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	wterrors "github.com/badri/wtsession/internal/errors"
	"github.com/badri/wtsession/internal/logging"
	"github.com/badri/wtsession/internal/pathutil"
	"github.com/badri/wtsession/internal/runner"
)

// Mode is how Create attached the new worktree to a branch.
type Mode string

const (
	ModeExistingLocal  Mode = "existing-local"
	ModeTrackingRemote Mode = "tracking-remote"
	ModeNewBranch      Mode = "new-branch"
)

// DefaultBaseBranches is the fallback chain used when no base is requested.
var DefaultBaseBranches = []string{"origin/main", "origin/master", "main", "master", "trunk"}

// Entry is one worktree from git's live list. It is never persisted.
type Entry struct {
	Path     string
	Branch   string
	Head     string
	Bare     bool
	Detached bool
}

// CreateResult reports which mode Create used and, for modes that need
// one, the ref the branch was started from.
type CreateResult struct {
	Mode    Mode
	BaseRef string
}

// Adapter runs git worktree operations against a repository root.
type Adapter struct {
	runner       runner.Runner
	baseBranches []string
	log          *logrus.Entry
}

// New creates an Adapter. A nil or empty baseBranches uses
// DefaultBaseBranches.
func New(r runner.Runner, baseBranches []string) *Adapter {
	if len(baseBranches) == 0 {
		baseBranches = DefaultBaseBranches
	}
	return &Adapter{
		runner:       r,
		baseBranches: baseBranches,
		log:          logging.NewLogger("worktree"),
	}
}

func (a *Adapter) git(ctx context.Context, repoRoot string, args ...string) runner.Result {
	return runner.Git(ctx, a.runner, repoRoot, args...)
}

// ResolveBaseRef picks the first candidate that resolves to a commit: the
// requested base, then the fallback chain, then the current branch, then
// HEAD.
func (a *Adapter) ResolveBaseRef(ctx context.Context, repoRoot, requested string) string {
	candidates := a.baseBranches
	if requested != "" {
		candidates = append([]string{requested}, a.baseBranches...)
	}

	for _, candidate := range candidates {
		if a.git(ctx, repoRoot, "rev-parse", "--verify", "--quiet", candidate+"^{commit}").OK() {
			return candidate
		}
	}

	current := a.git(ctx, repoRoot, "branch", "--show-current")
	if current.OK() && current.Stdout != "" {
		return current.Stdout
	}
	return "HEAD"
}

// LocalBranchExists reports whether refs/heads/<branch> exists.
func (a *Adapter) LocalBranchExists(ctx context.Context, repoRoot, branch string) bool {
	return a.git(ctx, repoRoot, "show-ref", "--verify", "--quiet", "refs/heads/"+branch).OK()
}

// RemoteTrackingRefs lists refs/remotes/<remote>/<branch> across all
// remotes, skipping symbolic HEAD refs.
func (a *Adapter) RemoteTrackingRefs(ctx context.Context, repoRoot, branch string) []string {
	res := a.git(ctx, repoRoot, "for-each-ref", "--format=%(refname)", "refs/remotes/*/"+branch)
	if !res.OK() || res.Stdout == "" {
		return nil
	}

	var refs []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasSuffix(line, "/HEAD") {
			continue
		}
		refs = append(refs, line)
	}
	return refs
}

// Create adds a worktree for branch at dest. It attaches an existing local
// branch, else tracks the single remote branch of that name, else starts a
// new branch from the resolved base ref. A branch present on more than one
// remote is a conflict; nothing is guessed.
func (a *Adapter) Create(ctx context.Context, repoRoot, branch, dest, requestedBase string) (*CreateResult, error) {
	// Ensure worktree parent directory exists
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, fmt.Errorf("creating worktree directory: %w", err)
	}

	log := a.log.WithField("branch", branch).WithField("path", dest)

	if a.LocalBranchExists(ctx, repoRoot, branch) {
		res := a.git(ctx, repoRoot, "worktree", "add", dest, branch)
		if !res.OK() {
			return nil, wterrors.CommandFailed(res.Stderr, "Failed to add worktree from existing branch.")
		}
		log.WithField("mode", ModeExistingLocal).Info("worktree created")
		return &CreateResult{Mode: ModeExistingLocal}, nil
	}

	remotes := a.RemoteTrackingRefs(ctx, repoRoot, branch)
	if len(remotes) > 1 {
		return nil, wterrors.New(wterrors.ErrCodeConflict,
			fmt.Sprintf("Branch exists on multiple remotes (%s). Use an explicit branch ref.", strings.Join(remotes, ", ")))
	}
	if len(remotes) == 1 {
		remoteRef := remotes[0]
		res := a.git(ctx, repoRoot, "worktree", "add", "-b", branch, dest, remoteRef)
		if !res.OK() {
			return nil, wterrors.CommandFailed(res.Stderr, "Failed to add worktree from remote tracking branch.")
		}
		log.WithField("mode", ModeTrackingRemote).WithField("base", remoteRef).Info("worktree created")
		return &CreateResult{Mode: ModeTrackingRemote, BaseRef: remoteRef}, nil
	}

	baseRef := a.ResolveBaseRef(ctx, repoRoot, requestedBase)
	res := a.git(ctx, repoRoot, "worktree", "add", "-b", branch, dest, baseRef)
	if !res.OK() {
		return nil, wterrors.CommandFailed(res.Stderr, fmt.Sprintf("Failed to create branch %s from %s.", branch, baseRef))
	}
	log.WithField("mode", ModeNewBranch).WithField("base", baseRef).Info("worktree created")
	return &CreateResult{Mode: ModeNewBranch, BaseRef: baseRef}, nil
}

// List returns git's live worktree list.
func (a *Adapter) List(ctx context.Context, repoRoot string) ([]Entry, error) {
	res := a.git(ctx, repoRoot, "worktree", "list", "--porcelain")
	if !res.OK() {
		return nil, wterrors.CommandFailed(res.Stderr, "Failed to list git worktrees.")
	}
	return ParsePorcelain(res.Stdout), nil
}

// Remove detaches the worktree at path. The branch is left untouched and
// a dirty worktree makes git refuse, which is reported as an error.
func (a *Adapter) Remove(ctx context.Context, repoRoot, path string) error {
	res := a.git(ctx, repoRoot, "worktree", "remove", path)
	if !res.OK() {
		return wterrors.CommandFailed(res.Stderr, "git worktree remove failed")
	}
	a.log.WithField("path", path).Info("worktree removed")
	return nil
}

// ParsePorcelain parses `git worktree list --porcelain`. A record starts at
// each "worktree" line; attribute lines before the first record are
// ignored.
func ParsePorcelain(raw string) []Entry {
	var entries []Entry
	var current *Entry

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "worktree ") {
			if current != nil {
				entries = append(entries, *current)
			}
			current = &Entry{Path: strings.TrimSpace(strings.TrimPrefix(line, "worktree "))}
			continue
		}
		if current == nil {
			continue
		}

		switch {
		case strings.HasPrefix(line, "branch "):
			branchRef := strings.TrimSpace(strings.TrimPrefix(line, "branch "))
			current.Branch = strings.TrimPrefix(branchRef, "refs/heads/")
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimSpace(strings.TrimPrefix(line, "HEAD "))
		case line == "detached":
			current.Detached = true
		case line == "bare":
			current.Bare = true
		}
	}
	if current != nil {
		entries = append(entries, *current)
	}
	return entries
}

// FindByBranch returns the worktree checked out to branch.
func FindByBranch(entries []Entry, branch string) (Entry, bool) {
	for _, e := range entries {
		if e.Branch != "" && e.Branch == branch {
			return e, true
		}
	}
	return Entry{}, false
}

// FindByPath returns the worktree at path, comparing canonical paths.
func FindByPath(entries []Entry, path string) (Entry, bool) {
	target := pathutil.Canonical(path)
	for _, e := range entries {
		if pathutil.Canonical(e.Path) == target {
			return e, true
		}
	}
	return Entry{}, false
}

// LinkDirs symlinks untracked directories of the repository root (shared
// tool configuration, for example) into a freshly created worktree. A
// directory missing from the root, or already present in the worktree, is
// skipped. Errors are collected, not fatal.
func LinkDirs(repoRoot, worktreePath string, dirs []string) []error {
	var errs []error
	for _, name := range dirs {
		if name == "" || filepath.IsAbs(name) || strings.Contains(name, "..") {
			errs = append(errs, fmt.Errorf("invalid link dir %q", name))
			continue
		}
		src := filepath.Join(repoRoot, name)
		dst := filepath.Join(worktreePath, name)

		if !pathutil.IsDir(src) {
			continue
		}
		if _, err := os.Lstat(dst); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			errs = append(errs, fmt.Errorf("linking %s: %w", name, err))
			continue
		}
		if err := os.Symlink(src, dst); err != nil {
			errs = append(errs, fmt.Errorf("linking %s: %w", name, err))
		}
	}
	return errs
}
