package tools

import (
	"context"

	wterrors "github.com/badri/wtsession/internal/errors"
	"github.com/badri/wtsession/internal/launcher"
	"github.com/badri/wtsession/internal/mapping"
	"github.com/badri/wtsession/internal/reconcile"
)

// Outcomes of the remove step of finish.
const (
	RemoveNotRequested = "not-requested"
	RemoveDone         = "removed"
	RemoveFailed       = "failed"
)

// FinishArgs are the arguments of a finish call.
type FinishArgs struct {
	Ref string
	// Remove detaches the worktree. The branch itself is always kept.
	Remove bool
}

// Finish archives a tracked worktree, or removes it when requested. A
// removal git refuses leaves the mapping's status as it was.
func (s *Service) Finish(ctx context.Context, inv reconcile.Invocation, args FinishArgs) *Report {
	rc, store, err := s.prepare(ctx, &inv)
	if err != nil {
		return ErrorReport(err)
	}
	defer store.Close()

	rec, err := reconcile.Resolve(ctx, store, args.Ref, inv)
	if err != nil {
		return ErrorReport(err)
	}
	if rec == nil {
		return ErrorReport(wterrors.New(wterrors.ErrCodeNotFound, "no matching tracked worktree found"))
	}

	status := mapping.StatusArchived
	outcome := RemoveNotRequested
	var removeErr string

	if args.Remove {
		if err := s.git.Remove(ctx, rc.RepoRoot, rec.WorktreePath); err != nil {
			outcome = RemoveFailed
			status = rec.Status
			removeErr = err.Error()
			if e, ok := wterrors.As(err); ok {
				removeErr = e.Message
			}
		} else {
			outcome = RemoveDone
			status = mapping.StatusRemoved
		}
	}

	if outcome != RemoveFailed {
		if err := store.UpdateStatus(ctx, rec.Branch, status); err != nil {
			return ErrorReport(err)
		}
	}

	r := NewReport("finished").
		add("branch", rec.Branch).
		add("path", rec.WorktreePath).
		add("status", string(status)).
		add("remove", outcome).
		add("branch_deleted", "no")
	if removeErr != "" {
		r.add("remove_error", removeErr).
			add("hint", "git worktree remove "+launcher.ShellQuote(rec.WorktreePath))
	}
	return r
}
