package doctor

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/badri/wtsession/internal/config"
	wterrors "github.com/badri/wtsession/internal/errors"
	"github.com/badri/wtsession/internal/hostsession"
	"github.com/badri/wtsession/internal/mapping"
	"github.com/badri/wtsession/internal/reconcile"
	"github.com/badri/wtsession/internal/repo"
	"github.com/badri/wtsession/internal/runner"
	"github.com/badri/wtsession/internal/tmux"
	"github.com/badri/wtsession/internal/tools"
)

type fakeLister struct {
	entries []tools.Entry
	err     error
}

func (f fakeLister) Entries(context.Context, reconcile.Invocation, bool) (*repo.Context, []tools.Entry, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return &repo.Context{Scope: "demo-0123456789ab"}, f.entries, nil
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.WorktreeRoot = filepath.Join(t.TempDir(), "worktrees")
	cfg.StoreDir = t.TempDir()
	cfg.Notify.Sound = filepath.Join(t.TempDir(), "missing.mp3")
	return cfg
}

func find(t *testing.T, results []CheckResult, name string) CheckResult {
	t.Helper()
	for _, r := range results {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("check %q not found", name)
	return CheckResult{}
}

func TestChecks_Healthy(t *testing.T) {
	cfg := testConfig(t)
	if err := os.WriteFile(cfg.Notify.Sound, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	r := runner.NewMockRunner().
		WithPath("git").WithPath("tmux").WithPath("ghostty").WithPath("opencode").
		OnOK("git --version", "git version 2.43.0")
	tm := tmux.NewMockRunner()
	tm.Windows = []tmux.MockWindow{{Name: "main"}}
	host := hostsession.NewMockClient("ses_main")
	lister := fakeLister{entries: []tools.Entry{{
		Record:     mapping.Record{Branch: "a", Status: mapping.StatusActive},
		OnDisk:     true,
		Registered: true,
	}}}

	d := New(cfg, r, host, tm, lister)
	results := d.Checks(context.Background(), reconcile.Invocation{SessionID: "ses_main"})

	for _, res := range results {
		if res.Status != StatusOK {
			t.Errorf("%s: expected ok, got %s (%s)", res.Name, res.Status, res.Message)
		}
	}
	if got := find(t, results, "git").Message; got != "version 2.43.0" {
		t.Errorf("git message = %q", got)
	}
	if got := find(t, results, "tmux").Message; got != "inside a session (1 windows)" {
		t.Errorf("tmux message = %q", got)
	}
	if _, err := os.Stat(cfg.WorktreeRoot); err != nil {
		t.Errorf("worktree root should have been created: %v", err)
	}

	var buf bytes.Buffer
	if err := Render(&buf, results); err != nil {
		t.Errorf("Render returned %v", err)
	}
	if !strings.Contains(buf.String(), "All checks passed!") {
		t.Errorf("missing summary in %q", buf.String())
	}
}

func TestChecks_MissingToolsAndDrift(t *testing.T) {
	cfg := testConfig(t)
	r := runner.NewMockRunner()
	tm := tmux.NewMockRunner()
	tm.Inside = false
	host := hostsession.NewMockClient()
	lister := fakeLister{entries: []tools.Entry{
		{Record: mapping.Record{Branch: "gone", Status: mapping.StatusActive}},
		{Record: mapping.Record{Branch: "done", Status: mapping.StatusArchived}},
	}}

	d := New(cfg, r, host, tm, lister)
	results := d.Checks(context.Background(), reconcile.Invocation{SessionID: "ses_lost"})

	want := map[string]Status{
		"git":             StatusError,
		"tmux":            StatusWarn,
		"terminal":        StatusWarn,
		"session command": StatusWarn,
		"host session":    StatusError,
		"notify sound":    StatusWarn,
		"mappings":        StatusWarn,
	}
	for name, status := range want {
		if got := find(t, results, name).Status; got != status {
			t.Errorf("%s: expected %s, got %s", name, status, got)
		}
	}
	if details := find(t, results, "mappings").Details; len(details) == 0 || details[0] != "Branches: gone" {
		t.Errorf("unexpected mapping details %v", details)
	}

	var buf bytes.Buffer
	if err := Render(&buf, results); err == nil {
		t.Error("expected Render to report errors")
	}
}

func TestCheckHost_NoSession(t *testing.T) {
	d := New(testConfig(t), runner.NewMockRunner(), hostsession.NewMockClient(), tmux.NewMockRunner(), fakeLister{})
	res := d.checkHost(context.Background(), reconcile.Invocation{})
	if res.Status != StatusWarn {
		t.Errorf("expected warn, got %s", res.Status)
	}
}

func TestCheckMappings_OutsideRepository(t *testing.T) {
	lister := fakeLister{err: wterrors.New(wterrors.ErrCodeContext, "Not inside a git repository.")}
	d := New(testConfig(t), runner.NewMockRunner(), hostsession.NewMockClient(), tmux.NewMockRunner(), lister)
	res := d.checkMappings(context.Background(), reconcile.Invocation{})
	if res.Status != StatusOK {
		t.Errorf("expected ok outside a repository, got %s", res.Status)
	}
}

func TestCheckWritableDir_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}
	res := checkWritableDir("store", file)
	if res.Status != StatusError {
		t.Errorf("expected error, got %s", res.Status)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abc", 2, "ab"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
