// Package doctor checks that the tools' external dependencies are present
// and that tracked worktrees still match the disk.
package doctor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/badri/wtsession/internal/config"
	wterrors "github.com/badri/wtsession/internal/errors"
	"github.com/badri/wtsession/internal/hostsession"
	"github.com/badri/wtsession/internal/mapping"
	"github.com/badri/wtsession/internal/pathutil"
	"github.com/badri/wtsession/internal/reconcile"
	"github.com/badri/wtsession/internal/repo"
	"github.com/badri/wtsession/internal/runner"
	"github.com/badri/wtsession/internal/tmux"
	"github.com/badri/wtsession/internal/tools"
)

type Status string

const (
	StatusOK    Status = "ok"
	StatusWarn  Status = "warn"
	StatusError Status = "error"
)

type CheckResult struct {
	Name    string
	Status  Status
	Message string
	Details []string
}

// EntryLister lists the tracked worktrees of the invocation's repository.
type EntryLister interface {
	Entries(ctx context.Context, inv reconcile.Invocation, checkSessions bool) (*repo.Context, []tools.Entry, error)
}

type Doctor struct {
	cfg      *config.Config
	run      runner.Runner
	sessions hostsession.Client
	tmux     tmux.Runner
	entries  EntryLister
}

func New(cfg *config.Config, r runner.Runner, sessions hostsession.Client, t tmux.Runner, entries EntryLister) *Doctor {
	return &Doctor{cfg: cfg, run: r, sessions: sessions, tmux: t, entries: entries}
}

// Checks runs every check in display order.
func (d *Doctor) Checks(ctx context.Context, inv reconcile.Invocation) []CheckResult {
	return []CheckResult{
		d.checkGit(ctx),
		d.checkTmux(ctx),
		d.checkTerminal(),
		d.checkSessionCommand(),
		d.checkHost(ctx, inv),
		checkWritableDir("worktree root", d.cfg.WorktreeRoot),
		checkWritableDir("store", d.cfg.StoreDir),
		d.checkSound(),
		d.checkMappings(ctx, inv),
	}
}

// Render prints results in a box and returns an error when any check
// failed. Warnings do not fail.
func Render(w io.Writer, results []CheckResult) error {
	fmt.Fprintln(w, "┌─ wt doctor ───────────────────────────────────────────────────────────┐")
	fmt.Fprintln(w, "│                                                                       │")

	var hasErrors, hasWarnings bool
	for _, r := range results {
		icon := "✓"
		switch r.Status {
		case StatusWarn:
			icon = "!"
			hasWarnings = true
		case StatusError:
			icon = "✗"
			hasErrors = true
		}

		fmt.Fprintf(w, "│  [%s] %-65s │\n", icon, truncate(r.Name+": "+r.Message, 65))
		for _, detail := range r.Details {
			fmt.Fprintf(w, "│      %-63s │\n", truncate(detail, 63))
		}
	}

	fmt.Fprintln(w, "│                                                                       │")
	fmt.Fprintln(w, "└───────────────────────────────────────────────────────────────────────┘")

	switch {
	case hasErrors:
		fmt.Fprintln(w, "\nSome checks failed. Please fix the errors above.")
		return fmt.Errorf("doctor found errors")
	case hasWarnings:
		fmt.Fprintln(w, "\nSome warnings found. Review the items above.")
	default:
		fmt.Fprintln(w, "\nAll checks passed!")
	}
	return nil
}

func (d *Doctor) checkGit(ctx context.Context) CheckResult {
	path, err := d.run.LookPath("git")
	if err != nil {
		return CheckResult{
			Name:    "git",
			Status:  StatusError,
			Message: "not installed",
			Details: []string{"Install git: brew install git (macOS) or apt install git (Linux)"},
		}
	}

	res := d.run.Run(ctx, "", "git", "--version")
	if !res.OK() {
		return CheckResult{
			Name:    "git",
			Status:  StatusWarn,
			Message: fmt.Sprintf("installed at %s but version unknown", path),
		}
	}
	return CheckResult{
		Name:    "git",
		Status:  StatusOK,
		Message: "version " + strings.TrimPrefix(res.Stdout, "git version "),
	}
}

// tmux is optional: without it worktrees open in a terminal window.
func (d *Doctor) checkTmux(ctx context.Context) CheckResult {
	if _, err := d.run.LookPath("tmux"); err != nil {
		return CheckResult{
			Name:    "tmux",
			Status:  StatusWarn,
			Message: "not installed, worktrees open in a terminal instead",
		}
	}
	if !d.tmux.InSession() {
		return CheckResult{Name: "tmux", Status: StatusOK, Message: "installed, not inside a session"}
	}

	windows, err := d.tmux.ListWindows(ctx)
	if err != nil {
		return CheckResult{Name: "tmux", Status: StatusWarn, Message: "inside a session but windows cannot be listed"}
	}
	return CheckResult{
		Name:    "tmux",
		Status:  StatusOK,
		Message: fmt.Sprintf("inside a session (%d windows)", len(windows)),
	}
}

func (d *Doctor) checkTerminal() CheckResult {
	name := d.cfg.Launch.Terminal
	if path, err := d.run.LookPath(name); err == nil {
		return CheckResult{Name: "terminal", Status: StatusOK, Message: path}
	}
	return CheckResult{
		Name:    "terminal",
		Status:  StatusWarn,
		Message: name + " not found on PATH",
		Details: []string{"Outside tmux, create and resume print the command to run instead"},
	}
}

func (d *Doctor) checkSessionCommand() CheckResult {
	fields := strings.Fields(d.cfg.SessionCommand)
	if len(fields) == 0 {
		return CheckResult{Name: "session command", Status: StatusError, Message: "session_command is empty"}
	}
	if path, err := d.run.LookPath(fields[0]); err == nil {
		return CheckResult{Name: "session command", Status: StatusOK, Message: path}
	}
	return CheckResult{
		Name:    "session command",
		Status:  StatusWarn,
		Message: fields[0] + " not found on PATH",
	}
}

func (d *Doctor) checkHost(ctx context.Context, inv reconcile.Invocation) CheckResult {
	if inv.SessionID == "" {
		return CheckResult{
			Name:    "host session",
			Status:  StatusWarn,
			Message: "no calling session",
			Details: []string{"Set WT_SESSION_ID or pass --session to fork from it"},
		}
	}
	if _, err := d.sessions.Get(ctx, inv.SessionID, inv.Directory); err != nil {
		return CheckResult{
			Name:    "host session",
			Status:  StatusError,
			Message: fmt.Sprintf("%s not reachable", inv.SessionID),
			Details: []string{fmt.Sprintf("Host: %s", d.cfg.Host.URL), fmt.Sprintf("Error: %v", err)},
		}
	}
	return CheckResult{Name: "host session", Status: StatusOK, Message: inv.SessionID + " is live"}
}

func checkWritableDir(name, dir string) CheckResult {
	root := pathutil.Normalize(dir)

	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(root, 0755); err != nil {
			return CheckResult{
				Name:    name,
				Status:  StatusError,
				Message: fmt.Sprintf("cannot create %s", root),
				Details: []string{fmt.Sprintf("Error: %v", err)},
			}
		}
		return CheckResult{Name: name, Status: StatusOK, Message: "created " + root}
	} else if err != nil {
		return CheckResult{
			Name:    name,
			Status:  StatusError,
			Message: fmt.Sprintf("cannot access %s", root),
			Details: []string{fmt.Sprintf("Error: %v", err)},
		}
	}
	if !info.IsDir() {
		return CheckResult{Name: name, Status: StatusError, Message: root + " exists but is not a directory"}
	}

	testFile := filepath.Join(root, ".wt-doctor-test")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		return CheckResult{
			Name:    name,
			Status:  StatusError,
			Message: root + " is not writable",
			Details: []string{fmt.Sprintf("Error: %v", err)},
		}
	}
	os.Remove(testFile)

	return CheckResult{Name: name, Status: StatusOK, Message: root + " exists and is writable"}
}

func (d *Doctor) checkSound() CheckResult {
	path := d.cfg.SoundPath()
	if pathutil.Exists(path) {
		return CheckResult{Name: "notify sound", Status: StatusOK, Message: path}
	}
	return CheckResult{
		Name:    "notify sound",
		Status:  StatusWarn,
		Message: "sound file missing, a desktop alert is used instead",
		Details: []string{path},
	}
}

// checkMappings flags active mappings whose worktree is gone from disk or
// from git. Resume marks them stale; finish archives them.
func (d *Doctor) checkMappings(ctx context.Context, inv reconcile.Invocation) CheckResult {
	rc, entries, err := d.entries.Entries(ctx, inv, false)
	if err != nil {
		if wterrors.Is(err, wterrors.ErrCodeContext) {
			return CheckResult{Name: "mappings", Status: StatusOK, Message: "not inside a git repository, skipped"}
		}
		return CheckResult{
			Name:    "mappings",
			Status:  StatusError,
			Message: "cannot read the mapping store",
			Details: []string{fmt.Sprintf("Error: %v", err)},
		}
	}

	var drifted []string
	for _, e := range entries {
		if e.Status != mapping.StatusActive {
			continue
		}
		if !e.OnDisk || !e.Registered {
			drifted = append(drifted, e.Branch)
		}
	}
	if len(drifted) > 0 {
		return CheckResult{
			Name:    "mappings",
			Status:  StatusWarn,
			Message: fmt.Sprintf("%d active worktree(s) missing in %s", len(drifted), rc.Scope),
			Details: []string{
				"Branches: " + strings.Join(drifted, ", "),
				"Fix with: wt resume <branch> to mark stale, or wt finish <branch>",
			},
		}
	}
	return CheckResult{
		Name:    "mappings",
		Status:  StatusOK,
		Message: fmt.Sprintf("%d tracked in %s", len(entries), rc.Scope),
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
