package reconcile

import (
	"context"
	"strings"

	"github.com/badri/wtsession/internal/mapping"
	"github.com/badri/wtsession/internal/pathutil"
	"github.com/badri/wtsession/internal/ref"
)

// SessionPrefix marks a reference as a host session id.
const SessionPrefix = "ses"

// Resolve finds the mapping a reference points at, or nil.
//
// With no reference the caller's context is used: a mapping forked as the
// current session, then one whose worktree is the current checkout, then the
// newest mapping forked from the current session. A session id is matched as
// a forked session and then as a parent. Absolute and home-relative paths
// are matched by canonical path. Anything else is sanitized like a new
// branch name and matched by branch.
func Resolve(ctx context.Context, store *mapping.Store, input string, inv Invocation) (*mapping.Record, error) {
	trimmed := strings.TrimSpace(input)

	if trimmed == "" {
		return firstOf(
			func() (*mapping.Record, error) { return store.ByForkedSession(ctx, inv.SessionID) },
			func() (*mapping.Record, error) { return store.ByPath(ctx, inv.currentPath()) },
			func() (*mapping.Record, error) { return store.LatestByParentSession(ctx, inv.SessionID) },
		)
	}

	if strings.HasPrefix(trimmed, SessionPrefix) {
		return firstOf(
			func() (*mapping.Record, error) { return store.ByForkedSession(ctx, trimmed) },
			func() (*mapping.Record, error) { return store.LatestByParentSession(ctx, trimmed) },
		)
	}

	if strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, "~/") {
		return store.ByPath(ctx, pathutil.Normalize(trimmed))
	}

	return store.ByBranch(ctx, ref.SanitizeBranch(trimmed))
}

func firstOf(lookups ...func() (*mapping.Record, error)) (*mapping.Record, error) {
	for _, lookup := range lookups {
		rec, err := lookup()
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
	}
	return nil, nil
}
