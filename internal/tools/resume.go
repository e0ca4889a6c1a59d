package tools

import (
	"context"

	wterrors "github.com/badri/wtsession/internal/errors"
	"github.com/badri/wtsession/internal/mapping"
	"github.com/badri/wtsession/internal/pathutil"
	"github.com/badri/wtsession/internal/reconcile"
	"github.com/badri/wtsession/internal/worktree"
)

// ResumeArgs are the arguments of a resume call.
type ResumeArgs struct {
	// Ref is a branch, session id or path. Empty infers the mapping from
	// the invocation.
	Ref  string
	Open bool
}

// Resume re-validates a tracked worktree, repairs its session if needed
// and optionally opens it.
func (s *Service) Resume(ctx context.Context, inv reconcile.Invocation, args ResumeArgs) *Report {
	rec, ensured, err := s.resume(ctx, inv, args)
	if err != nil {
		s.log.WithError(err).WithField("ref", args.Ref).Warn("resume failed")
		return ErrorReport(err)
	}

	launch := s.launchOrFallback(ctx, args.Open, !ensured.Recreated, rec.WorktreePath, ensured.SessionID, rec.BranchSlug)

	r := NewReport("resumed").
		add("branch", rec.Branch).
		add("path", rec.WorktreePath).
		add("session", ensured.SessionID)
	if ensured.Recreated {
		r.raw("session_recreated: yes")
	}
	return r.launch(launch)
}

func (s *Service) resume(ctx context.Context, inv reconcile.Invocation, args ResumeArgs) (*mapping.Record, *reconcile.Ensured, error) {
	rc, store, err := s.prepare(ctx, &inv)
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()

	rec, err := reconcile.Resolve(ctx, store, args.Ref, inv)
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		return nil, nil, wterrors.New(wterrors.ErrCodeNotFound, "no matching tracked worktree found")
	}

	if !pathutil.Exists(rec.WorktreePath) {
		return nil, nil, s.markStale(ctx, store, rec, "tracked worktree path is missing")
	}

	entries, err := s.git.List(ctx, rc.RepoRoot)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := worktree.FindByPath(entries, rec.WorktreePath); !ok {
		return nil, nil, s.markStale(ctx, store, rec, "tracked path is not a registered git worktree")
	}

	ensured, err := s.reconciler.Ensure(ctx, store, *rec, inv)
	if err != nil {
		return nil, nil, err
	}
	refreshed, err := store.ByBranch(ctx, rec.Branch)
	if err != nil {
		return nil, nil, err
	}
	if refreshed == nil {
		return nil, nil, wterrors.New(wterrors.ErrCodeStore, "failed to refresh mapping after session recovery")
	}

	if err := store.UpdateStatus(ctx, rec.Branch, mapping.StatusActive); err != nil {
		return nil, nil, err
	}
	return refreshed, ensured, nil
}

// markStale records drift and returns the error describing it.
func (s *Service) markStale(ctx context.Context, store *mapping.Store, rec *mapping.Record, msg string) error {
	if err := store.UpdateStatus(ctx, rec.Branch, mapping.StatusStale); err != nil {
		s.log.WithError(err).WithField("branch", rec.Branch).Warn("could not mark mapping stale")
	}
	return wterrors.New(wterrors.ErrCodeDrift, msg).
		WithDetail("branch", rec.Branch).
		WithDetail("path", rec.WorktreePath)
}
