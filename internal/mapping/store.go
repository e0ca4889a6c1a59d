// Package mapping persists branch -> worktree/session mappings, one SQLite
// file per project scope.
package mapping

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	wterrors "github.com/badri/wtsession/internal/errors"
	"github.com/badri/wtsession/internal/logging"
	"github.com/badri/wtsession/internal/pathutil"
)

// Status is the lifecycle state of a mapping.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusRemoved  Status = "removed"
	StatusStale    Status = "stale"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusArchived, StatusRemoved, StatusStale:
		return true
	}
	return false
}

// BusyTimeout is how long a writer waits on a locked database before
// failing.
const BusyTimeout = 5 * time.Second

// timeLayout is a fixed-width UTC ISO-8601 layout, so text ordering in SQL
// matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Record is one persisted mapping.
type Record struct {
	Branch          string
	BranchSlug      string
	WorktreePath    string
	ParentSessionID string
	ForkedSessionID string
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a SQLite-backed mapping store.
type Store struct {
	db   *sql.DB
	q    querier
	path string
	now  func() time.Time
	log  *logrus.Entry
}

// Open opens or creates the store at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, wterrors.Wrap(err, wterrors.ErrCodeStore, "creating store directory")
	}

	// Pragmas in the DSN apply to every pooled connection. Immediate
	// transactions take the write lock up front so InTx callers serialize.
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate",
		path, BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wterrors.Wrap(err, wterrors.ErrCodeStore, "opening database")
	}
	// One connection per Store: transactions in one process queue on the
	// pool, and SQLite's lock only arbitrates between processes.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, wterrors.Wrap(err, wterrors.ErrCodeStore, "opening database")
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, wterrors.Wrap(err, wterrors.ErrCodeStore, "migrating database")
	}

	return &Store{
		db:   db,
		q:    db,
		path: path,
		now:  time.Now,
		log:  logging.NewLogger("mapping").WithField("store", filepath.Base(path)),
	}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS worktree_sessions (
		branch TEXT PRIMARY KEY,
		branch_slug TEXT NOT NULL,
		worktree_path TEXT NOT NULL,
		parent_session_id TEXT NOT NULL,
		forked_session_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_worktree_sessions_path ON worktree_sessions(worktree_path);
	CREATE INDEX IF NOT EXISTS idx_worktree_sessions_forked ON worktree_sessions(forked_session_id);
	CREATE INDEX IF NOT EXISTS idx_worktree_sessions_parent ON worktree_sessions(parent_session_id, updated_at);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock replaces the time source, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// InTx runs fn against a store bound to one immediate transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wterrors.Wrap(err, wterrors.ErrCodeStore, "beginning transaction")
	}
	bound := *s
	bound.q = tx

	if err := fn(&bound); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.WithError(rbErr).Warn("rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return wterrors.Wrap(err, wterrors.ErrCodeStore, "committing transaction")
	}
	return nil
}

const selectColumns = `SELECT branch, branch_slug, worktree_path, parent_session_id, forked_session_id, status, created_at, updated_at
	FROM worktree_sessions`

// All returns every mapping, most recently updated first.
func (s *Store) All(ctx context.Context) ([]Record, error) {
	rows, err := s.q.QueryContext(ctx, selectColumns+` ORDER BY updated_at DESC, rowid DESC`)
	if err != nil {
		return nil, wterrors.Wrap(err, wterrors.ErrCodeStore, "listing mappings")
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ByBranch returns the mapping for branch, or nil.
func (s *Store) ByBranch(ctx context.Context, branch string) (*Record, error) {
	return s.queryOne(ctx, selectColumns+` WHERE branch = ? LIMIT 1`, branch)
}

// ByForkedSession returns the mapping whose forked session is id, or nil.
func (s *Store) ByForkedSession(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, nil
	}
	return s.queryOne(ctx, selectColumns+` WHERE forked_session_id = ? ORDER BY updated_at DESC, rowid DESC LIMIT 1`, id)
}

// LatestByParentSession returns the most recently updated mapping forked
// from the parent session id, or nil.
func (s *Store) LatestByParentSession(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, nil
	}
	return s.queryOne(ctx, selectColumns+` WHERE parent_session_id = ? ORDER BY updated_at DESC, rowid DESC LIMIT 1`, id)
}

// ByPath returns the mapping whose worktree path canonicalizes to the same
// location as path, or nil. Stored paths may predate a symlink, so the
// comparison is done on canonical paths rather than in SQL.
func (s *Store) ByPath(ctx context.Context, path string) (*Record, error) {
	if path == "" {
		return nil, nil
	}
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	target := pathutil.Canonical(path)
	for i := range all {
		if pathutil.Canonical(all[i].WorktreePath) == target {
			return &all[i], nil
		}
	}
	return nil, nil
}

// Upsert inserts rec or replaces the row with the same branch. CreatedAt is
// preserved for existing rows; UpdatedAt is always refreshed.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	if rec.Branch == "" {
		return wterrors.New(wterrors.ErrCodeInvalidInput, "mapping branch must not be empty")
	}
	if !rec.Status.Valid() {
		return wterrors.New(wterrors.ErrCodeInvalidInput, fmt.Sprintf("invalid mapping status %q", rec.Status))
	}

	return s.InTx(ctx, func(tx *Store) error {
		prev, err := tx.ByBranch(ctx, rec.Branch)
		if err != nil {
			return err
		}

		var prevUpdated time.Time
		createdAt := rec.CreatedAt
		if prev != nil {
			prevUpdated = prev.UpdatedAt
			createdAt = prev.CreatedAt
		}
		updatedAt := tx.stamp(prevUpdated)
		if createdAt.IsZero() {
			createdAt = updatedAt
		}

		_, err = tx.q.ExecContext(ctx, `
			INSERT INTO worktree_sessions (
				branch, branch_slug, worktree_path, parent_session_id, forked_session_id,
				status, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(branch) DO UPDATE SET
				branch_slug = excluded.branch_slug,
				worktree_path = excluded.worktree_path,
				parent_session_id = excluded.parent_session_id,
				forked_session_id = excluded.forked_session_id,
				status = excluded.status,
				updated_at = excluded.updated_at`,
			rec.Branch, rec.BranchSlug, rec.WorktreePath, rec.ParentSessionID, rec.ForkedSessionID,
			string(rec.Status), formatTime(createdAt), formatTime(updatedAt),
		)
		if err != nil {
			return wterrors.Wrap(err, wterrors.ErrCodeStore, "upserting mapping")
		}

		entry := tx.log.WithField("branch", rec.Branch).WithField("to", rec.Status)
		if prev != nil {
			entry = entry.WithField("from", prev.Status)
		}
		entry.Info("mapping saved")
		return nil
	})
}

// UpdateStatus sets status and refreshes UpdatedAt. Updating a branch with
// no mapping is a no-op.
func (s *Store) UpdateStatus(ctx context.Context, branch string, status Status) error {
	if !status.Valid() {
		return wterrors.New(wterrors.ErrCodeInvalidInput, fmt.Sprintf("invalid mapping status %q", status))
	}

	return s.InTx(ctx, func(tx *Store) error {
		prev, err := tx.ByBranch(ctx, branch)
		if err != nil {
			return err
		}
		if prev == nil {
			return nil
		}

		_, err = tx.q.ExecContext(ctx,
			`UPDATE worktree_sessions SET status = ?, updated_at = ? WHERE branch = ?`,
			string(status), formatTime(tx.stamp(prev.UpdatedAt)), branch,
		)
		if err != nil {
			return wterrors.Wrap(err, wterrors.ErrCodeStore, "updating mapping status")
		}
		tx.log.WithField("branch", branch).WithField("from", prev.Status).WithField("to", status).Info("status changed")
		return nil
	})
}

// stamp returns the current time, nudged forward so it is strictly after
// prev at the stored millisecond precision.
func (s *Store) stamp(prev time.Time) time.Time {
	now := s.now().UTC().Truncate(time.Millisecond)
	if !prev.IsZero() && !now.After(prev) {
		now = prev.Add(time.Millisecond)
	}
	return now
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (*Record, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wterrors.Wrap(err, wterrors.ErrCodeStore, "querying mapping")
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var recs []Record
	for rows.Next() {
		var r Record
		var status, created, updated string
		if err := rows.Scan(&r.Branch, &r.BranchSlug, &r.WorktreePath, &r.ParentSessionID,
			&r.ForkedSessionID, &status, &created, &updated); err != nil {
			return nil, wterrors.Wrap(err, wterrors.ErrCodeStore, "scanning mapping")
		}
		r.Status = Status(status)
		r.CreatedAt = parseTime(created)
		r.UpdatedAt = parseTime(updated)
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wterrors.Wrap(err, wterrors.ErrCodeStore, "reading mappings")
	}
	return recs, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
