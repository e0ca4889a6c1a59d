package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wterrors "github.com/badri/wtsession/internal/errors"
	"github.com/badri/wtsession/internal/runner"
)

const porcelain = `worktree /src/repo
HEAD 1111111111111111111111111111111111111111
branch refs/heads/main

worktree /wt/repo-abc/feat--login
HEAD 2222222222222222222222222222222222222222
branch refs/heads/feat/login

worktree /wt/repo-abc/detached
HEAD 3333333333333333333333333333333333333333
detached

`

func TestParsePorcelain(t *testing.T) {
	entries := ParsePorcelain(porcelain)
	require.Len(t, entries, 3)

	assert.Equal(t, "/src/repo", entries[0].Path)
	assert.Equal(t, "main", entries[0].Branch)
	assert.Equal(t, "feat/login", entries[1].Branch)
	assert.Equal(t, "2222222222222222222222222222222222222222", entries[1].Head)
	assert.Equal(t, "", entries[2].Branch)
	assert.True(t, entries[2].Detached)
}

func TestParsePorcelain_EdgeCases(t *testing.T) {
	assert.Empty(t, ParsePorcelain(""))
	// Attribute lines before the first record are ignored.
	entries := ParsePorcelain("branch refs/heads/orphan\nworktree /a\nbare\n")
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Bare)
	assert.Equal(t, "", entries[0].Branch)
	// Records without a trailing blank line are still flushed.
	entries = ParsePorcelain("worktree /a\r\nbranch refs/heads/x\r\nworktree /b\r\nbranch refs/heads/y")
	require.Len(t, entries, 2)
	assert.Equal(t, "y", entries[1].Branch)
}

func TestFind(t *testing.T) {
	entries := ParsePorcelain(porcelain)

	e, ok := FindByBranch(entries, "feat/login")
	assert.True(t, ok)
	assert.Equal(t, "/wt/repo-abc/feat--login", e.Path)

	_, ok = FindByBranch(entries, "")
	assert.False(t, ok, "detached entries never match an empty branch")

	e, ok = FindByPath(entries, "/wt/repo-abc/../repo-abc/feat--login/")
	assert.True(t, ok)
	assert.Equal(t, "feat/login", e.Branch)

	_, ok = FindByPath(entries, "/nowhere")
	assert.False(t, ok)
}

func TestResolveBaseRef(t *testing.T) {
	ctx := context.Background()

	t.Run("requested base wins", func(t *testing.T) {
		m := runner.NewMockRunner().
			OnOK("git rev-parse --verify --quiet release/2^{commit}", "abc").
			OnOK("git rev-parse --verify --quiet origin/main^{commit}", "def")
		assert.Equal(t, "release/2", New(m, nil).ResolveBaseRef(ctx, "/repo", "release/2"))
	})

	t.Run("fallback chain", func(t *testing.T) {
		m := runner.NewMockRunner().
			OnOK("git rev-parse --verify --quiet master^{commit}", "abc")
		assert.Equal(t, "master", New(m, nil).ResolveBaseRef(ctx, "/repo", "missing"))
	})

	t.Run("current branch", func(t *testing.T) {
		m := runner.NewMockRunner().OnOK("git branch --show-current", "develop")
		assert.Equal(t, "develop", New(m, nil).ResolveBaseRef(ctx, "/repo", ""))
	})

	t.Run("HEAD", func(t *testing.T) {
		m := runner.NewMockRunner().OnOK("git branch --show-current", "")
		assert.Equal(t, "HEAD", New(m, nil).ResolveBaseRef(ctx, "/repo", ""))
	})

	t.Run("custom chain", func(t *testing.T) {
		m := runner.NewMockRunner().
			OnOK("git rev-parse --verify --quiet upstream/dev^{commit}", "abc").
			OnOK("git rev-parse --verify --quiet origin/main^{commit}", "def")
		assert.Equal(t, "upstream/dev", New(m, []string{"upstream/dev"}).ResolveBaseRef(ctx, "/repo", ""))
	})
}

func TestCreate_Modes(t *testing.T) {
	ctx := context.Background()
	dest := filepath.Join(t.TempDir(), "scope", "feat--x")

	t.Run("existing local", func(t *testing.T) {
		m := runner.NewMockRunner().
			OnOK("git show-ref --verify --quiet refs/heads/feat/x", "").
			OnOK("git worktree add "+dest+" feat/x", "")
		res, err := New(m, nil).Create(ctx, "/repo", "feat/x", dest, "")
		require.NoError(t, err)
		assert.Equal(t, ModeExistingLocal, res.Mode)
		assert.Empty(t, res.BaseRef)
		assert.DirExists(t, filepath.Dir(dest))
	})

	t.Run("tracking remote", func(t *testing.T) {
		m := runner.NewMockRunner().
			OnOK("git for-each-ref --format=%(refname) refs/remotes/*/feat/x", "refs/remotes/origin/feat/x").
			OnOK("git worktree add -b feat/x "+dest+" refs/remotes/origin/feat/x", "")
		res, err := New(m, nil).Create(ctx, "/repo", "feat/x", dest, "")
		require.NoError(t, err)
		assert.Equal(t, ModeTrackingRemote, res.Mode)
		assert.Equal(t, "refs/remotes/origin/feat/x", res.BaseRef)
	})

	t.Run("multiple remotes is a conflict", func(t *testing.T) {
		m := runner.NewMockRunner().
			OnOK("git for-each-ref --format=%(refname) refs/remotes/*/feat/x",
				"refs/remotes/origin/feat/x\nrefs/remotes/upstream/feat/x")
		_, err := New(m, nil).Create(ctx, "/repo", "feat/x", dest, "")
		require.Error(t, err)
		assert.True(t, wterrors.Is(err, wterrors.ErrCodeConflict))
		assert.Contains(t, err.Error(), "refs/remotes/origin/feat/x, refs/remotes/upstream/feat/x")
		assert.False(t, m.Called("git worktree add"))
	})

	t.Run("new branch from base", func(t *testing.T) {
		m := runner.NewMockRunner().
			OnOK("git rev-parse --verify --quiet origin/main^{commit}", "abc").
			OnOK("git worktree add -b feat/x "+dest+" origin/main", "")
		res, err := New(m, nil).Create(ctx, "/repo", "feat/x", dest, "")
		require.NoError(t, err)
		assert.Equal(t, ModeNewBranch, res.Mode)
		assert.Equal(t, "origin/main", res.BaseRef)
	})

	t.Run("git failure surfaces stderr", func(t *testing.T) {
		m := runner.NewMockRunner().
			OnOK("git rev-parse --verify --quiet origin/main^{commit}", "abc").
			OnFail("git worktree add -b feat/x "+dest+" origin/main", "fatal: '"+dest+"' already exists")
		_, err := New(m, nil).Create(ctx, "/repo", "feat/x", dest, "")
		require.Error(t, err)
		assert.True(t, wterrors.Is(err, wterrors.ErrCodeCommandFailed))
		assert.Contains(t, err.Error(), "already exists")
	})
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	m := runner.NewMockRunner().
		OnOK("git worktree remove /wt/a", "").
		OnFail("git worktree remove /wt/b", "fatal: '/wt/b' contains modified or untracked files, use --force to delete it")

	a := New(m, nil)
	assert.NoError(t, a.Remove(ctx, "/repo", "/wt/a"))

	err := a.Remove(ctx, "/repo", "/wt/b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contains modified or untracked files")
}

func TestList_Failure(t *testing.T) {
	m := runner.NewMockRunner().OnFail("git worktree list --porcelain", "")
	_, err := New(m, nil).List(context.Background(), "/repo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to list git worktrees.")
}

func TestCreate_RealGit(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	ctx := context.Background()
	repoDir := initGitRepo(t)
	a := New(runner.ExecRunner{}, []string{"main"})

	dest := filepath.Join(t.TempDir(), "scope", "feat--one")
	res, err := a.Create(ctx, repoDir, "feat/one", dest, "")
	require.NoError(t, err)
	assert.Equal(t, ModeNewBranch, res.Mode)
	assert.Equal(t, "main", res.BaseRef)

	entries, err := a.List(ctx, repoDir)
	require.NoError(t, err)
	e, ok := FindByBranch(entries, "feat/one")
	require.True(t, ok)
	assert.True(t, hasPath(entries, dest))
	assert.NotEmpty(t, e.Head)

	// The branch now exists locally; a second worktree for it is refused by git.
	assert.True(t, a.LocalBranchExists(ctx, repoDir, "feat/one"))
	_, err = a.Create(ctx, repoDir, "feat/one", filepath.Join(t.TempDir(), "other"), "")
	assert.Error(t, err)

	require.NoError(t, a.Remove(ctx, repoDir, dest))
	assert.NoDirExists(t, dest)
	assert.True(t, a.LocalBranchExists(ctx, repoDir, "feat/one"), "remove keeps the branch")
}

func hasPath(entries []Entry, path string) bool {
	_, ok := FindByPath(entries, path)
	return ok
}

func TestLinkDirs(t *testing.T) {
	t.Run("creates symlink when source exists", func(t *testing.T) {
		repoPath := t.TempDir()
		worktreePath := t.TempDir()
		srcDir := filepath.Join(repoPath, ".opencode")
		require.NoError(t, os.MkdirAll(srcDir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(srcDir, "settings.json"), []byte("{}"), 0644))

		errs := LinkDirs(repoPath, worktreePath, []string{".opencode"})
		assert.Empty(t, errs)

		dstDir := filepath.Join(worktreePath, ".opencode")
		target, err := os.Readlink(dstDir)
		require.NoError(t, err)
		assert.Equal(t, srcDir, target)

		content, err := os.ReadFile(filepath.Join(dstDir, "settings.json"))
		require.NoError(t, err)
		assert.Equal(t, "{}", string(content))
	})

	t.Run("no-op when source does not exist", func(t *testing.T) {
		worktreePath := t.TempDir()
		assert.Empty(t, LinkDirs(t.TempDir(), worktreePath, []string{".opencode"}))
		_, err := os.Lstat(filepath.Join(worktreePath, ".opencode"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("no-op when destination already exists", func(t *testing.T) {
		repoPath := t.TempDir()
		worktreePath := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(repoPath, ".opencode"), 0755))
		dstDir := filepath.Join(worktreePath, ".opencode")
		require.NoError(t, os.MkdirAll(dstDir, 0755))

		assert.Empty(t, LinkDirs(repoPath, worktreePath, []string{".opencode"}))
		info, err := os.Lstat(dstDir)
		require.NoError(t, err)
		assert.Zero(t, info.Mode()&os.ModeSymlink, "existing directory was replaced by symlink")
	})

	t.Run("rejects escaping names", func(t *testing.T) {
		errs := LinkDirs(t.TempDir(), t.TempDir(), []string{"../secrets", "/etc", ""})
		assert.Len(t, errs, 3)
	})
}

func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "repo")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for _, args := range [][]string{
		{"init", "-q", "-b", "main"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test"},
		{"commit", "-q", "--allow-empty", "-m", "initial"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	return dir
}

func TestRemoteTrackingRefs_SkipsHEAD(t *testing.T) {
	m := runner.NewMockRunner().
		OnOK("git for-each-ref --format=%(refname) refs/remotes/*/main",
			"refs/remotes/origin/main\n  \nrefs/remotes/mirror/HEAD\n")
	refs := New(m, nil).RemoteTrackingRefs(context.Background(), "/repo", "main")
	assert.Equal(t, []string{"refs/remotes/origin/main"}, refs)
}
