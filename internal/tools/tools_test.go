package tools

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badri/wtsession/internal/config"
	"github.com/badri/wtsession/internal/hostsession"
	"github.com/badri/wtsession/internal/launcher"
	"github.com/badri/wtsession/internal/mapping"
	"github.com/badri/wtsession/internal/reconcile"
	"github.com/badri/wtsession/internal/runner"
	"github.com/badri/wtsession/internal/tmux"
)

type fixture struct {
	svc   *Service
	host  *hostsession.MockClient
	tmux  *tmux.MockRunner
	cfg   *config.Config
	repo  string
	inv   reconcile.Invocation
	scope string
}

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	repoDir := filepath.Join(t.TempDir(), "demo")
	require.NoError(t, os.MkdirAll(repoDir, 0755))
	gitCmd(t, repoDir, "init", "-q")
	gitCmd(t, repoDir, "-c", "user.name=wt", "-c", "user.email=wt@example.com", "commit", "-q", "--allow-empty", "-m", "init")

	cfg := config.Default()
	cfg.WorktreeRoot = t.TempDir()
	cfg.StoreDir = t.TempDir()

	host := hostsession.NewMockClient("ses_main")
	tm := tmux.NewMockRunner()
	l := launcher.New(cfg, runner.NewMockRunner(), tm).WithGOOS("linux")
	svc := New(cfg, runner.ExecRunner{}, host, l)

	inv := reconcile.Invocation{SessionID: "ses_main", Directory: repoDir}
	rc, err := svc.Context(context.Background(), inv)
	require.NoError(t, err)

	return &fixture{svc: svc, host: host, tmux: tm, cfg: cfg, repo: repoDir, inv: inv, scope: rc.Scope}
}

func (f *fixture) store(t *testing.T) *mapping.Store {
	t.Helper()
	s, err := mapping.Open(context.Background(), f.cfg.StorePath(f.scope))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// field returns the value of the first "key: value" line of a report.
func field(r *Report, key string) string {
	for _, line := range r.Lines() {
		if v, ok := strings.CutPrefix(line, key+": "); ok {
			return v
		}
	}
	return ""
}

func TestCreate_NewBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := f.svc.Create(ctx, f.inv, CreateArgs{Ref: "Fix Login Bug!!"})
	require.False(t, r.Failed(), r.String())

	assert.Equal(t, "[worktree] created", r.Lines()[0])
	assert.Equal(t, f.scope, field(r, "scope"))
	assert.Equal(t, "Fix-Login-Bug", field(r, "branch"))
	assert.Equal(t, "branch", field(r, "source"))
	assert.Equal(t, "new-branch", field(r, "mode"))
	assert.NotEmpty(t, field(r, "base"))
	assert.Equal(t, "no", field(r, "opened"))

	path := field(r, "path")
	assert.Equal(t, "fix-login-bug", filepath.Base(path))
	assert.DirExists(t, path)

	session := field(r, "session")
	assert.Equal(t, "cd "+launcher.ShellQuote(path)+" && opencode --session "+session, field(r, "run"))

	rec, err := f.store(t).ByBranch(ctx, "Fix-Login-Bug")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, session, rec.ForkedSessionID)
	assert.Equal(t, "ses_main", rec.ParentSessionID)
	assert.Equal(t, mapping.StatusActive, rec.Status)
}

func TestCreate_StoryAndScratch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := f.svc.Create(ctx, f.inv, CreateArgs{Ref: "https://app.shortcut.com/acme/story/977/title"})
	require.False(t, r.Failed(), r.String())
	assert.Equal(t, "sc-977", field(r, "branch"))
	assert.Equal(t, "story-fallback", field(r, "source"))

	r = f.svc.Create(ctx, f.inv, CreateArgs{})
	require.False(t, r.Failed(), r.String())
	assert.Regexp(t, `^wt/[0-9a-f]{8}$`, field(r, "branch"))
	assert.Equal(t, "scratch", field(r, "source"))
	assert.True(t, strings.HasPrefix(filepath.Base(field(r, "path")), "wt--"))
}

func TestCreate_NamedPrefixes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := f.svc.Create(ctx, f.inv, CreateArgs{Ref: "story:login"})
	require.False(t, r.Failed(), r.String())
	assert.Equal(t, "story/login", field(r, "branch"))
	assert.Equal(t, "branch", field(r, "source"))
	assert.Equal(t, "story--login", filepath.Base(field(r, "path")))

	r = f.svc.Create(ctx, f.inv, CreateArgs{Ref: "scratch:spike"})
	require.False(t, r.Failed(), r.String())
	assert.Equal(t, "scratch/spike", field(r, "branch"))
	assert.Equal(t, "scratch", field(r, "source"))
}

func TestCreate_BranchOnMultipleRemotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gitCmd(t, f.repo, "update-ref", "refs/remotes/origin/feat/shared", "HEAD")
	gitCmd(t, f.repo, "update-ref", "refs/remotes/upstream/feat/shared", "HEAD")

	r := f.svc.Create(ctx, f.inv, CreateArgs{Ref: "feat/shared"})
	require.True(t, r.Failed(), r.String())
	assert.Equal(t, "[worktree] error: Branch exists on multiple remotes (refs/remotes/origin/feat/shared, refs/remotes/upstream/feat/shared). Use an explicit branch ref.", r.Lines()[0])

	rec, err := f.store(t).ByBranch(ctx, "feat/shared")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoDirExists(t, filepath.Join(f.cfg.WorktreeRoot, f.scope, "feat--shared"))
	assert.Empty(t, f.host.ForkCalls)
	assert.Empty(t, gitCmd(t, f.repo, "branch", "--list", "feat/shared"))
}

func TestCreate_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.svc.Create(ctx, f.inv, CreateArgs{Ref: "feat/login"})
	require.False(t, first.Failed(), first.String())

	second := f.svc.Create(ctx, f.inv, CreateArgs{Ref: "feat/login"})
	require.False(t, second.Failed(), second.String())

	assert.Equal(t, "[worktree] reused-existing", second.Lines()[0])
	assert.Equal(t, "existing-worktree", field(second, "mode"))
	assert.Equal(t, field(first, "session"), field(second, "session"))
	assert.Equal(t, filepath.Base(field(first, "path")), filepath.Base(field(second, "path")))
	assert.Len(t, f.host.ForkCalls, 1)

	all, err := f.store(t).All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreate_RecreatesLostSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.svc.Create(ctx, f.inv, CreateArgs{Ref: "feat/x"})
	require.False(t, first.Failed(), first.String())
	f.host.Delete(field(first, "session"))

	second := f.svc.Create(ctx, f.inv, CreateArgs{Ref: "feat/x"})
	require.False(t, second.Failed(), second.String())
	assert.Contains(t, second.Lines(), "session_recreated: yes")
	assert.NotEqual(t, field(first, "session"), field(second, "session"))
}

func TestCreate_DestinationNotRegistered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	blocked := filepath.Join(f.cfg.WorktreeRoot, f.scope, "blocked")
	require.NoError(t, os.MkdirAll(blocked, 0755))

	r := f.svc.Create(ctx, f.inv, CreateArgs{Ref: "blocked"})
	require.True(t, r.Failed())
	assert.Equal(t, "[worktree] error: destination exists on disk but is not a registered git worktree.", r.Lines()[0])
	assert.Equal(t, blocked, field(r, "path"))

	all, err := f.store(t).All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreate_DestinationAttachedToAnotherBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// "Feat-A" and "feat-a" are different branches with the same slug.
	first := f.svc.Create(ctx, f.inv, CreateArgs{Ref: "Feat-A"})
	require.False(t, first.Failed(), first.String())

	r := f.svc.Create(ctx, f.inv, CreateArgs{Ref: "feat-a"})
	require.True(t, r.Failed())
	assert.Equal(t, "[worktree] error: destination path is already attached to another branch", r.Lines()[0])
	assert.Equal(t, "Feat-A", field(r, "branch"))
}

func TestCreate_NotARepository(t *testing.T) {
	f := newFixture(t)

	inv := f.inv
	inv.Directory = t.TempDir()
	r := f.svc.Create(context.Background(), inv, CreateArgs{Ref: "x"})
	require.True(t, r.Failed())
	assert.True(t, strings.HasPrefix(r.Lines()[0], "[worktree] error: "))
}

func TestCreate_Opens(t *testing.T) {
	f := newFixture(t)

	r := f.svc.Create(context.Background(), f.inv, CreateArgs{Ref: "feat/open", Open: true})
	require.False(t, r.Failed(), r.String())
	assert.Equal(t, "yes (tmux)", field(r, "opened"))
	assert.Empty(t, field(r, "run"))
	require.Len(t, f.tmux.Windows, 1)
	assert.Equal(t, "wt-feat--open", f.tmux.Windows[0].Name)
}

func TestOpen_ReusesWindowOnlyForKeptSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.svc.Create(ctx, f.inv, CreateArgs{Ref: "feat/win", Open: true})
	require.False(t, first.Failed(), first.String())
	require.Len(t, f.tmux.Windows, 1)

	again := f.svc.Create(ctx, f.inv, CreateArgs{Ref: "feat/win", Open: true})
	require.False(t, again.Failed(), again.String())
	assert.Equal(t, "yes (tmux, existing window)", field(again, "opened"))
	assert.Equal(t, "wt-feat--win", f.tmux.SelectedWindow)
	assert.Len(t, f.tmux.Windows, 1)

	resumed := f.svc.Resume(ctx, f.inv, ResumeArgs{Ref: "feat/win", Open: true})
	require.False(t, resumed.Failed(), resumed.String())
	assert.Equal(t, "yes (tmux, existing window)", field(resumed, "opened"))

	// A recreated session must not land in the window of the old one.
	f.host.Delete(field(first, "session"))
	f.tmux.SelectedWindow = ""
	recreated := f.svc.Resume(ctx, f.inv, ResumeArgs{Ref: "feat/win", Open: true})
	require.False(t, recreated.Failed(), recreated.String())
	assert.Contains(t, recreated.Lines(), "session_recreated: yes")
	assert.Equal(t, "yes (tmux)", field(recreated, "opened"))
	assert.Empty(t, f.tmux.SelectedWindow)
	require.Len(t, f.tmux.Windows, 2)
	assert.Equal(t, "opencode --session "+field(recreated, "session"), f.tmux.Windows[1].Command)
}

func TestCreate_ConcurrentSameBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store(t) // create the database before the race

	var wg sync.WaitGroup
	reports := make([]*Report, 2)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i] = f.svc.Create(ctx, f.inv, CreateArgs{Ref: "race"})
		}(i)
	}
	wg.Wait()

	actions := map[string]int{}
	for _, r := range reports {
		require.False(t, r.Failed(), r.String())
		actions[r.Lines()[0]]++
	}
	assert.Equal(t, 1, actions["[worktree] created"])
	assert.Equal(t, 1, actions["[worktree] reused-existing"])

	all, err := f.store(t).All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty := f.svc.List(ctx, f.inv, false)
	assert.Equal(t, "[worktree] no tracked worktrees for scope "+f.scope, empty.String())

	a := f.svc.Create(ctx, f.inv, CreateArgs{Ref: "feat/a"})
	require.False(t, a.Failed(), a.String())
	b := f.svc.Create(ctx, f.inv, CreateArgs{Ref: "feat/b"})
	require.False(t, b.Failed(), b.String())
	require.NoError(t, os.RemoveAll(field(a, "path")))
	f.host.Delete(field(b, "session"))

	r := f.svc.List(ctx, f.inv, true)
	lines := r.Lines()
	assert.Equal(t, "[worktree] tracked entries: 2", lines[0])
	assert.Equal(t, "scope: "+f.scope, lines[1])

	// Most recently updated first.
	assert.Equal(t, "- feat/b", lines[2])
	assert.Equal(t, "  flags: on-disk,registered,session:missing", lines[6])
	assert.Equal(t, "- feat/a", lines[7])
	assert.Equal(t, "  flags: missing-path,registered,session:ok", lines[11])

	unchecked := f.svc.List(ctx, f.inv, false)
	assert.Contains(t, unchecked.String(), "session:unchecked")
}

func TestResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.svc.Create(ctx, f.inv, CreateArgs{Ref: "feat/resume"})
	require.False(t, created.Failed(), created.String())

	t.Run("by branch", func(t *testing.T) {
		r := f.svc.Resume(ctx, f.inv, ResumeArgs{Ref: "feat/resume"})
		require.False(t, r.Failed(), r.String())
		assert.Equal(t, "[worktree] resumed", r.Lines()[0])
		assert.Equal(t, field(created, "session"), field(r, "session"))
		assert.NotContains(t, r.Lines(), "session_recreated: yes")
	})

	t.Run("inferred from forked session", func(t *testing.T) {
		inv := reconcile.Invocation{SessionID: field(created, "session"), Directory: f.repo}
		r := f.svc.Resume(ctx, inv, ResumeArgs{})
		require.False(t, r.Failed(), r.String())
		assert.Equal(t, "feat/resume", field(r, "branch"))
	})

	t.Run("lost session is recreated", func(t *testing.T) {
		f.host.Delete(field(created, "session"))
		r := f.svc.Resume(ctx, f.inv, ResumeArgs{Ref: "feat/resume"})
		require.False(t, r.Failed(), r.String())
		assert.Contains(t, r.Lines(), "session_recreated: yes")

		rec, err := f.store(t).ByBranch(ctx, "feat/resume")
		require.NoError(t, err)
		assert.Equal(t, field(r, "session"), rec.ForkedSessionID)
		assert.Equal(t, mapping.StatusActive, rec.Status)
	})

	t.Run("unknown ref", func(t *testing.T) {
		r := f.svc.Resume(ctx, f.inv, ResumeArgs{Ref: "nope"})
		assert.Equal(t, "[worktree] error: no matching tracked worktree found", r.String())
	})
}

func TestResume_MissingPathMarksStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.svc.Create(ctx, f.inv, CreateArgs{Ref: "feat/gone"})
	require.False(t, created.Failed(), created.String())
	require.NoError(t, os.RemoveAll(field(created, "path")))

	r := f.svc.Resume(ctx, f.inv, ResumeArgs{Ref: "feat/gone"})
	require.True(t, r.Failed())
	assert.Equal(t, "[worktree] error: tracked worktree path is missing", r.Lines()[0])
	assert.Equal(t, "feat/gone", field(r, "branch"))

	rec, err := f.store(t).ByBranch(ctx, "feat/gone")
	require.NoError(t, err)
	assert.Equal(t, mapping.StatusStale, rec.Status)
}

func TestResume_UnregisteredPathMarksStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.svc.Create(ctx, f.inv, CreateArgs{Ref: "feat/detached"})
	require.False(t, created.Failed(), created.String())
	path := field(created, "path")
	gitCmd(t, f.repo, "worktree", "remove", path)
	require.NoError(t, os.MkdirAll(path, 0755))

	r := f.svc.Resume(ctx, f.inv, ResumeArgs{Ref: path})
	require.True(t, r.Failed())
	assert.Equal(t, "[worktree] error: tracked path is not a registered git worktree", r.Lines()[0])

	rec, err := f.store(t).ByBranch(ctx, "feat/detached")
	require.NoError(t, err)
	assert.Equal(t, mapping.StatusStale, rec.Status)
}

func TestFinish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("archive", func(t *testing.T) {
		created := f.svc.Create(ctx, f.inv, CreateArgs{Ref: "feat/archive"})
		require.False(t, created.Failed(), created.String())

		r := f.svc.Finish(ctx, f.inv, FinishArgs{Ref: "feat/archive"})
		require.False(t, r.Failed(), r.String())
		assert.Equal(t, []string{
			"[worktree] finished",
			"branch: feat/archive",
			"path: " + field(created, "path"),
			"status: archived",
			"remove: not-requested",
			"branch_deleted: no",
		}, r.Lines())
		assert.DirExists(t, field(created, "path"))
	})

	t.Run("remove", func(t *testing.T) {
		created := f.svc.Create(ctx, f.inv, CreateArgs{Ref: "feat/remove"})
		require.False(t, created.Failed(), created.String())

		r := f.svc.Finish(ctx, f.inv, FinishArgs{Ref: "feat/remove", Remove: true})
		require.False(t, r.Failed(), r.String())
		assert.Equal(t, "removed", field(r, "status"))
		assert.Equal(t, "removed", field(r, "remove"))
		assert.NoDirExists(t, field(created, "path"))

		// The branch survives removal.
		gitCmd(t, f.repo, "show-ref", "--verify", "refs/heads/feat/remove")
	})

	t.Run("failed removal keeps status", func(t *testing.T) {
		created := f.svc.Create(ctx, f.inv, CreateArgs{Ref: "feat/dirty"})
		require.False(t, created.Failed(), created.String())
		path := field(created, "path")
		require.NoError(t, os.WriteFile(filepath.Join(path, "scratch.txt"), []byte("wip"), 0644))

		r := f.svc.Finish(ctx, f.inv, FinishArgs{Ref: "feat/dirty", Remove: true})
		assert.Equal(t, "active", field(r, "status"))
		assert.Equal(t, "failed", field(r, "remove"))
		assert.NotEmpty(t, field(r, "remove_error"))
		assert.Equal(t, "git worktree remove "+launcher.ShellQuote(path), field(r, "hint"))

		rec, err := f.store(t).ByBranch(ctx, "feat/dirty")
		require.NoError(t, err)
		assert.Equal(t, mapping.StatusActive, rec.Status)
	})
}
