package tools

import (
	"context"
	"os"
	"path/filepath"

	wterrors "github.com/badri/wtsession/internal/errors"
	"github.com/badri/wtsession/internal/mapping"
	"github.com/badri/wtsession/internal/pathutil"
	"github.com/badri/wtsession/internal/reconcile"
	"github.com/badri/wtsession/internal/ref"
	"github.com/badri/wtsession/internal/worktree"
)

// Modes reported when no new worktree was added.
const (
	ModeExistingWorktree = "existing-worktree"
	ModeExistingPath     = "existing-path"
	ModeNew              = "new"
)

// CreateArgs are the arguments of a create call.
type CreateArgs struct {
	// Ref is a branch name, a story number or URL, or empty for a scratch
	// branch.
	Ref string
	// Base is the start point of a new branch.
	Base string
	// Open launches a terminal for the forked session.
	Open bool
}

type createOutcome struct {
	action    string
	scope     string
	branch    string
	slug      string
	path      string
	sessionID string
	source    ref.Source
	mode      string
	baseRef   string
	recreated bool
	// kept is set when an existing mapping's session was still live.
	kept bool
}

// Create creates or reuses the worktree for a ref and pairs it with a
// forked session.
func (s *Service) Create(ctx context.Context, inv reconcile.Invocation, args CreateArgs) *Report {
	out, err := s.create(ctx, inv, args)
	if err != nil {
		s.log.WithError(err).WithField("ref", args.Ref).Warn("create failed")
		return ErrorReport(err)
	}

	launch := s.launchOrFallback(ctx, args.Open, out.kept, out.path, out.sessionID, out.slug)

	r := NewReport(out.action).
		add("scope", out.scope).
		add("branch", out.branch).
		add("path", out.path).
		add("session", out.sessionID).
		add("source", string(out.source)).
		add("mode", out.mode)
	if out.baseRef != "" {
		r.add("base", out.baseRef)
	}
	if out.recreated {
		r.raw("session_recreated: yes")
	}
	return r.launch(launch)
}

func (s *Service) create(ctx context.Context, inv reconcile.Invocation, args CreateArgs) (*createOutcome, error) {
	rc, store, err := s.prepare(ctx, &inv)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	resolved := ref.Resolve(args.Ref)
	out := &createOutcome{
		scope:  rc.Scope,
		branch: resolved.Branch,
		slug:   ref.Slug(resolved.Branch),
		source: resolved.Source,
	}

	if err := os.MkdirAll(rc.ScopeDir, 0755); err != nil {
		return nil, wterrors.Wrap(err, wterrors.ErrCodeContext, "creating scope directory")
	}
	preferred := filepath.Join(rc.ScopeDir, out.slug)

	// The whole check-then-create sequence runs under the store's write
	// lock so concurrent creates for one branch see each other's worktree.
	err = store.InTx(ctx, func(tx *mapping.Store) error {
		entries, err := s.git.List(ctx, rc.RepoRoot)
		if err != nil {
			return err
		}

		existing, hasExisting := worktree.FindByBranch(entries, out.branch)
		selected := pathutil.Normalize(preferred)
		if hasExisting {
			selected = pathutil.Canonical(existing.Path)
		}
		selectedEntry, selectedRegistered := worktree.FindByPath(entries, selected)
		preferredEntry, preferredRegistered := worktree.FindByPath(entries, preferred)

		if selectedRegistered && selectedEntry.Branch != "" && selectedEntry.Branch != out.branch {
			return wterrors.New(wterrors.ErrCodeConflict, "destination path is already attached to another branch").
				WithDetail("path", selected).
				WithDetail("branch", selectedEntry.Branch)
		}
		if !hasExisting && preferredRegistered && preferredEntry.Branch != "" && preferredEntry.Branch != out.branch {
			return wterrors.New(wterrors.ErrCodeConflict, "preferred path already belongs to another branch").
				WithDetail("path", preferred).
				WithDetail("branch", preferredEntry.Branch)
		}
		if !selectedRegistered && pathutil.Exists(selected) {
			return wterrors.New(wterrors.ErrCodeConflict, "destination exists on disk but is not a registered git worktree.").
				WithDetail("path", selected)
		}

		prev, err := tx.ByBranch(ctx, out.branch)
		if err != nil {
			return err
		}

		created := false
		out.mode = ModeNew
		if hasExisting {
			out.mode = ModeExistingWorktree
		}
		if !selectedRegistered && !preferredRegistered && !hasExisting {
			res, err := s.git.Create(ctx, rc.RepoRoot, out.branch, preferred, args.Base)
			if err != nil {
				return err
			}
			created = true
			out.mode = string(res.Mode)
			out.baseRef = res.BaseRef
			for _, linkErr := range worktree.LinkDirs(rc.RepoRoot, preferred, s.cfg.LinkDirs) {
				s.log.WithError(linkErr).Warn("link dir skipped")
			}
		}

		out.path = selected
		switch {
		case created:
			out.path = preferred
			out.action = "created"
		case hasExisting:
			out.action = "reused-existing"
		default:
			out.action = "reused"
			if preferredRegistered {
				out.mode = ModeExistingPath
			}
		}

		parent := inv.SessionID
		if prev != nil && pathutil.Same(prev.WorktreePath, out.path) {
			ensured, err := s.reconciler.Ensure(ctx, tx, *prev, inv)
			if err != nil {
				return err
			}
			out.sessionID = ensured.SessionID
			out.recreated = ensured.Recreated
			out.kept = !ensured.Recreated
			parent = prev.ParentSessionID
			if refreshed, err := tx.ByBranch(ctx, out.branch); err == nil && refreshed != nil && refreshed.ParentSessionID != "" {
				parent = refreshed.ParentSessionID
			}
		} else {
			out.sessionID, err = s.reconciler.Fork(ctx, inv.SessionID, out.path)
			if err != nil {
				return err
			}
		}

		return tx.Upsert(ctx, mapping.Record{
			Branch:          out.branch,
			BranchSlug:      out.slug,
			WorktreePath:    out.path,
			ParentSessionID: parent,
			ForkedSessionID: out.sessionID,
			Status:          mapping.StatusActive,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
