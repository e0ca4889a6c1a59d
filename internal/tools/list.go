package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/badri/wtsession/internal/mapping"
	"github.com/badri/wtsession/internal/pathutil"
	"github.com/badri/wtsession/internal/reconcile"
	"github.com/badri/wtsession/internal/repo"
	"github.com/badri/wtsession/internal/worktree"
)

// Entry is a mapping annotated with what was observed about it.
type Entry struct {
	mapping.Record
	OnDisk     bool
	Registered bool
	Session    reconcile.Status
}

// Flags renders the observations the way the list report prints them.
func (e Entry) Flags() []string {
	disk := "missing-path"
	if e.OnDisk {
		disk = "on-disk"
	}
	reg := "not-registered"
	if e.Registered {
		reg = "registered"
	}
	return []string{disk, reg, e.Session.String()}
}

// Entries returns every mapping of the invocation's scope, most recently
// updated first. Sessions are only checked against the host when
// checkSessions is set.
func (s *Service) Entries(ctx context.Context, inv reconcile.Invocation, checkSessions bool) (*repo.Context, []Entry, error) {
	rc, store, err := s.prepare(ctx, &inv)
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()

	records, err := store.All(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return rc, nil, nil
	}

	gitEntries, err := s.git.List(ctx, rc.RepoRoot)
	if err != nil {
		s.log.WithError(err).Warn("worktree list failed, treating mappings as unregistered")
	}

	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		_, registered := worktree.FindByPath(gitEntries, rec.WorktreePath)
		e := Entry{
			Record:     rec,
			OnDisk:     pathutil.Exists(rec.WorktreePath),
			Registered: registered,
			Session:    reconcile.SessionUnchecked,
		}
		if checkSessions {
			e.Session = s.reconciler.Check(ctx, rec)
		}
		entries = append(entries, e)
	}
	return rc, entries, nil
}

// List reports every tracked mapping of the current scope.
func (s *Service) List(ctx context.Context, inv reconcile.Invocation, checkSessions bool) *Report {
	rc, entries, err := s.Entries(ctx, inv, checkSessions)
	if err != nil {
		return ErrorReport(err)
	}
	if len(entries) == 0 {
		return NewReport("no tracked worktrees for scope " + rc.Scope)
	}

	r := NewReport(fmt.Sprintf("tracked entries: %d", len(entries))).add("scope", rc.Scope)
	for _, e := range entries {
		r.raw("- "+e.Branch).
			add("  status", string(e.Status)).
			add("  session", e.ForkedSessionID).
			add("  path", e.WorktreePath).
			add("  flags", strings.Join(e.Flags(), ","))
	}
	return r
}
