// Package repo derives the repository context every tool call runs in: the
// canonical repository root and a project scope that is stable across
// linked worktrees of the same repository.
package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	wterrors "github.com/badri/wtsession/internal/errors"
	"github.com/badri/wtsession/internal/pathutil"
	"github.com/badri/wtsession/internal/ref"
	"github.com/badri/wtsession/internal/runner"
)

const scopeHashLen = 12

// Context is derived per call and never stored.
type Context struct {
	RepoRoot  string
	CommonDir string
	Scope     string
	ScopeDir  string
}

// Resolve inspects the repository containing dir. worktreeRoot is the base
// directory under which each scope gets its own worktree directory.
func Resolve(ctx context.Context, r runner.Runner, dir, worktreeRoot string) (*Context, error) {
	top := runner.Git(ctx, r, dir, "rev-parse", "--show-toplevel")
	if !top.OK() || top.Stdout == "" {
		return nil, wterrors.New(wterrors.ErrCodeContext, top.ErrorText("Not inside a git repository."))
	}
	root := pathutil.Canonical(top.Stdout)

	var commonDir string
	common := runner.Git(ctx, r, dir, "rev-parse", "--git-common-dir")
	if common.OK() && common.Stdout != "" {
		p := common.Stdout
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		commonDir = pathutil.Canonical(p)
	} else {
		commonDir = pathutil.Canonical(filepath.Join(root, ".git"))
	}

	scope := ScopeID(repoName(root, commonDir), commonDir)
	return &Context{
		RepoRoot:  root,
		CommonDir: commonDir,
		Scope:     scope,
		ScopeDir:  filepath.Join(pathutil.Normalize(worktreeRoot), scope),
	}, nil
}

// repoName names the repository after the directory owning the common git
// dir, so every linked worktree reports the main checkout's name.
func repoName(root, commonDir string) string {
	base := filepath.Base(commonDir)
	switch {
	case base == ".git":
		return filepath.Base(filepath.Dir(commonDir))
	case strings.HasSuffix(base, ".git"):
		return strings.TrimSuffix(base, ".git")
	default:
		return filepath.Base(root)
	}
}

// ScopeID combines the slugged repository name with a short hash of the
// canonical git common directory.
func ScopeID(repoName, commonDir string) string {
	sum := sha256.Sum256([]byte(commonDir))
	return ref.SlugSegment(repoName) + "-" + hex.EncodeToString(sum[:])[:scopeHashLen]
}
