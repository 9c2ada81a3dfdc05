package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"agentvcs/internal/vcs"
)

// ErrSessionNotFound is returned when no record exists for an id.
var ErrSessionNotFound = errors.New("session not found")

// Store persists session records and per-repository backend selection
// in SQLite, so a restart can rediscover which sessions still hold a
// live revision.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	repo_path  TEXT NOT NULL,
	engine     TEXT NOT NULL,
	change_id  TEXT NOT NULL DEFAULT '',
	workdir    TEXT NOT NULL DEFAULT '',
	branch     TEXT NOT NULL DEFAULT '',
	base       TEXT NOT NULL DEFAULT '',
	state      TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_repo ON sessions(repo_path, state);
CREATE TABLE IF NOT EXISTS repo_backends (
	repo_path TEXT PRIMARY KEY,
	engine    TEXT NOT NULL
);
`

// NewStore opens (or creates) the database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite supports one concurrent writer; a single connection
	// serializes access through Go's pool.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// PutSession inserts or replaces a session record.
func (s *Store) PutSession(ctx context.Context, sess *Session) error {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, repo_path, engine, change_id, workdir, branch, base, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			repo_path = excluded.repo_path,
			engine    = excluded.engine,
			change_id = excluded.change_id,
			workdir   = excluded.workdir,
			branch    = excluded.branch,
			base      = excluded.base,
			state     = excluded.state,
			updated_at = excluded.updated_at`,
		sess.ID, sess.RepoPath, string(sess.Engine), string(sess.ChangeID),
		sess.Workdir, sess.Branch, string(sess.Base), string(sess.State),
		sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repo_path, engine, change_id, workdir, branch, base, state, created_at, updated_at
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// SetSessionState updates only the lifecycle state.
func (s *Store) SetSessionState(ctx context.Context, id string, state State) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set session state %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ClearSession removes the record entirely.
func (s *Store) ClearSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("clear session %s: %w", id, err)
	}
	return nil
}

// ListSessions returns all sessions for a repository, newest first.
// An empty repoPath lists every repository's sessions.
func (s *Store) ListSessions(ctx context.Context, repoPath string) ([]*Session, error) {
	query := `SELECT id, repo_path, engine, change_id, workdir, branch, base, state, created_at, updated_at
		FROM sessions`
	args := []any{}
	if repoPath != "" {
		query += ` WHERE repo_path = ?`
		args = append(args, repoPath)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ActiveSessions returns every session still marked Active, for crash
// recovery after a restart.
func (s *Store) ActiveSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo_path, engine, change_id, workdir, branch, base, state, created_at, updated_at
		FROM sessions WHERE state = ? ORDER BY created_at`, string(StateActive))
	if err != nil {
		return nil, fmt.Errorf("active sessions: %w", err)
	}
	defer rows.Close()
	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// RepoEngine returns the persisted backend selection for a repository.
// Repositories without a selection default to git for compatibility.
func (s *Store) RepoEngine(ctx context.Context, repoPath string) (vcs.Engine, bool, error) {
	var engine string
	err := s.db.QueryRowContext(ctx,
		`SELECT engine FROM repo_backends WHERE repo_path = ?`, repoPath).Scan(&engine)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return vcs.EngineGit, false, nil
		}
		return "", false, fmt.Errorf("repo engine %s: %w", repoPath, err)
	}
	return vcs.Engine(engine), true, nil
}

// SetRepoEngine persists the backend selection for a repository.
func (s *Store) SetRepoEngine(ctx context.Context, repoPath string, engine vcs.Engine) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repo_backends (repo_path, engine) VALUES (?, ?)
		ON CONFLICT(repo_path) DO UPDATE SET engine = excluded.engine`,
		repoPath, string(engine))
	if err != nil {
		return fmt.Errorf("set repo engine %s: %w", repoPath, err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*Session, error) {
	var sess Session
	var engine, changeID, base, state string
	err := row.Scan(&sess.ID, &sess.RepoPath, &engine, &changeID, &sess.Workdir,
		&sess.Branch, &base, &state, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.Engine = vcs.Engine(engine)
	sess.ChangeID = vcs.ChangeID(changeID)
	sess.Base = vcs.ChangeID(base)
	sess.State = State(state)
	return &sess, nil
}
