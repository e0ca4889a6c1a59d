// Package tools implements the worktree tool calls: create, list, resume
// and finish. Each call returns a text report and never an error; failures
// are rendered into the report.
package tools

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/badri/wtsession/internal/config"
	"github.com/badri/wtsession/internal/hostsession"
	"github.com/badri/wtsession/internal/launcher"
	"github.com/badri/wtsession/internal/logging"
	"github.com/badri/wtsession/internal/mapping"
	"github.com/badri/wtsession/internal/reconcile"
	"github.com/badri/wtsession/internal/repo"
	"github.com/badri/wtsession/internal/runner"
	"github.com/badri/wtsession/internal/worktree"
)

// Service runs tool calls against one configuration.
type Service struct {
	cfg        *config.Config
	run        runner.Runner
	git        *worktree.Adapter
	reconciler *reconcile.Reconciler
	launcher   *launcher.Launcher
	log        *logrus.Entry
}

// New creates a Service.
func New(cfg *config.Config, r runner.Runner, sessions hostsession.Client, l *launcher.Launcher) *Service {
	return &Service{
		cfg:        cfg,
		run:        r,
		git:        worktree.New(r, cfg.BaseBranches),
		reconciler: reconcile.New(sessions),
		launcher:   l,
		log:        logging.NewLogger("tools"),
	}
}

// Context resolves the repository context of the invocation's directory.
func (s *Service) Context(ctx context.Context, inv reconcile.Invocation) (*repo.Context, error) {
	return repo.Resolve(ctx, s.run, inv.Directory, s.cfg.WorktreeRoot)
}

// StorePath is the mapping database of a scope.
func (s *Service) StorePath(scope string) string {
	return s.cfg.StorePath(scope)
}

// prepare resolves the repository, opens its store and fills in the
// invocation's worktree when the caller did not know it.
func (s *Service) prepare(ctx context.Context, inv *reconcile.Invocation) (*repo.Context, *mapping.Store, error) {
	rc, err := s.Context(ctx, *inv)
	if err != nil {
		return nil, nil, err
	}
	if inv.Worktree == "" {
		inv.Worktree = rc.RepoRoot
	}
	store, err := mapping.Open(ctx, s.StorePath(rc.Scope))
	if err != nil {
		return nil, nil, err
	}
	return rc, store, nil
}

// launchOrFallback opens the session when asked. sameSession means the
// mapping kept its session, so a window already open for it is selected
// instead of starting a duplicate.
func (s *Service) launchOrFallback(ctx context.Context, open, sameSession bool, path, sessionID, slug string) launcher.Result {
	if open && sameSession {
		return s.launcher.Reopen(ctx, path, sessionID, slug)
	}
	if open {
		return s.launcher.Open(ctx, path, sessionID, slug)
	}
	return launcher.Result{FallbackCommand: s.launcher.FallbackCommand(path, sessionID)}
}
