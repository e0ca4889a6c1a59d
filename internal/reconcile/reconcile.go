// Package reconcile keeps a mapping's forked session alive and resolves
// user references to mappings.
package reconcile

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	wterrors "github.com/badri/wtsession/internal/errors"
	"github.com/badri/wtsession/internal/hostsession"
	"github.com/badri/wtsession/internal/logging"
	"github.com/badri/wtsession/internal/mapping"
)

// Invocation is the caller's context for one tool call.
type Invocation struct {
	// SessionID is the host session the tool was invoked from.
	SessionID string
	// Directory is the caller's working directory.
	Directory string
	// Worktree is the top level of the checkout containing Directory, when
	// known. Path inference prefers it over Directory.
	Worktree string
}

func (inv Invocation) currentPath() string {
	if inv.Worktree != "" {
		return inv.Worktree
	}
	return inv.Directory
}

// Ensured is the live session for a mapping after reconciliation.
type Ensured struct {
	SessionID       string
	ParentSessionID string
	Recreated       bool
}

// Reconciler repairs lost sessions.
type Reconciler struct {
	sessions hostsession.Client
	log      *logrus.Entry
}

// New creates a Reconciler backed by the host session API.
func New(sessions hostsession.Client) *Reconciler {
	return &Reconciler{
		sessions: sessions,
		log:      logging.NewLogger("reconcile"),
	}
}

// Ensure returns rec's forked session when it is still live at the
// worktree. Otherwise it forks a replacement from rec's parent (or, when
// that is gone too, from the caller's session), persists it with status
// active, and reports Recreated. Callers re-read the mapping afterwards if
// they need the stored row.
func (r *Reconciler) Ensure(ctx context.Context, store *mapping.Store, rec mapping.Record, inv Invocation) (*Ensured, error) {
	if hostsession.Exists(ctx, r.sessions, rec.ForkedSessionID, rec.WorktreePath) {
		return &Ensured{
			SessionID:       rec.ForkedSessionID,
			ParentSessionID: rec.ParentSessionID,
		}, nil
	}

	parent := inv.SessionID
	if hostsession.Exists(ctx, r.sessions, rec.ParentSessionID, inv.Directory) {
		parent = rec.ParentSessionID
	}

	log := r.log.WithField("branch", rec.Branch).WithField("lost", rec.ForkedSessionID)
	log.WithField("parent", parent).Info("forked session lost, recreating")

	newID, err := r.Fork(ctx, parent, rec.WorktreePath)
	if err != nil {
		return nil, err
	}

	rec.ParentSessionID = parent
	rec.ForkedSessionID = newID
	rec.Status = mapping.StatusActive
	if err := store.Upsert(ctx, rec); err != nil {
		return nil, err
	}

	return &Ensured{
		SessionID:       newID,
		ParentSessionID: parent,
		Recreated:       true,
	}, nil
}

// Fork creates a session rooted at directory that inherits from parentID.
// A failed fork falls back to creating a fresh session whose parent is
// parentID.
func (r *Reconciler) Fork(ctx context.Context, parentID, directory string) (string, error) {
	log := r.log.WithField("parent", parentID).WithField("directory", directory)

	sess, err := r.sessions.Fork(ctx, parentID, directory)
	if err == nil && sess != nil && sess.ID != "" {
		log.WithField("session", sess.ID).Debug("session forked")
		return sess.ID, nil
	}
	log.WithError(err).Warn("fork failed, falling back to create")

	sess, err = r.sessions.Create(ctx, hostsession.CreateParams{ParentID: parentID}, directory)
	if err != nil {
		return "", wterrors.Wrap(err, wterrors.ErrCodeSession, "Failed to create forked session")
	}
	if sess == nil || sess.ID == "" {
		return "", wterrors.New(wterrors.ErrCodeSession, "Failed to create forked session")
	}
	log.WithField("session", sess.ID).Debug("session created")
	return sess.ID, nil
}

// Status describes a mapping's session for listings.
type Status string

const (
	SessionOK        Status = "ok"
	SessionMissing   Status = "missing"
	SessionUnchecked Status = "unchecked"
)

// Check reports whether rec's forked session is live, without repairing it.
func (r *Reconciler) Check(ctx context.Context, rec mapping.Record) Status {
	if hostsession.Exists(ctx, r.sessions, rec.ForkedSessionID, rec.WorktreePath) {
		return SessionOK
	}
	return SessionMissing
}

func (s Status) String() string {
	return fmt.Sprintf("session:%s", string(s))
}
