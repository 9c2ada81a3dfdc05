package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"agentvcs/internal/vcs"
	"agentvcs/internal/vcs/gitvcs"
	"agentvcs/internal/vcs/jjvcs"
)

const defaultRemoteTimeout = 60 * time.Second

// worktreeManager is the extra surface the dedicated-directory
// strategy needs from the git adapter.
type worktreeManager interface {
	AddWorktree(dir, branch string, base vcs.ChangeID) error
	RemoveWorktree(dir string, force bool) error
}

type opener func(engine vcs.Engine, path string) (vcs.Repository, error)

func defaultOpen(engine vcs.Engine, path string) (vcs.Repository, error) {
	if engine == vcs.EngineJJ {
		return jjvcs.Open(path)
	}
	return gitvcs.Open(path)
}

// Options configures a Manager.
type Options struct {
	// WorkspaceRoot is where dedicated worktree directories are
	// created, one subdirectory per session.
	WorkspaceRoot string
	// RemoteTimeout bounds fetch and push; zero means one minute.
	RemoteTimeout time.Duration
}

// Manager owns the session lifecycle for any number of repositories.
// Safe for concurrent use: mutating operations on a shared directory
// serialize on a per-repository-root lock.
type Manager struct {
	store         *Store
	locks         *repoLocks
	open          opener
	detect        func(string) (vcs.Engine, string, error)
	workspaceRoot string
	remoteTimeout time.Duration
}

func NewManager(store *Store, opts Options) *Manager {
	timeout := opts.RemoteTimeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	root := opts.WorkspaceRoot
	if root == "" {
		root = filepath.Join(os.TempDir(), "agentvcs-workspaces")
	}
	return &Manager{
		store:         store,
		locks:         newRepoLocks(),
		open:          defaultOpen,
		detect:        vcs.Detect,
		workspaceRoot: root,
		remoteTimeout: timeout,
	}
}

// CreateSession provisions an isolated workspace for sessionID against
// the repository at repoPath, starting from base (or the current head
// when base is zero).
func (m *Manager) CreateSession(ctx context.Context, repoPath, sessionID string, base vcs.ChangeID) (*Session, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, fmt.Errorf("session id must be a UUID: %w", err)
	}
	engine, root, err := m.resolveEngine(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	if existing, err := m.store.GetSession(ctx, sessionID); err == nil && existing.State != StateReclaimed {
		return nil, fmt.Errorf("session %s already exists in state %s", sessionID, existing.State)
	}

	sess := &Session{
		ID:       sessionID,
		RepoPath: root,
		Engine:   engine,
		Base:     base,
		State:    StateRequested,
	}
	if err := m.store.PutSession(ctx, sess); err != nil {
		return nil, err
	}

	switch engine {
	case vcs.EngineJJ:
		err = m.provisionShared(ctx, sess)
	default:
		err = m.provisionDedicated(ctx, sess)
	}
	if err != nil {
		// The Requested record stays behind for inspection; cleanup of
		// a Requested session is a plain record clear.
		return nil, err
	}

	sess.State = StateActive
	if err := m.store.PutSession(ctx, sess); err != nil {
		return nil, err
	}
	slog.Info("session created",
		slog.String("session", sess.ID),
		slog.String("engine", string(sess.Engine)),
		slog.String("change", string(sess.ChangeID)),
		slog.String("workdir", sess.Workdir),
	)
	return sess, nil
}

// provisionShared creates a new change in the shared directory. The
// materialization lock is held: jj new re-points the working copy.
func (m *Manager) provisionShared(ctx context.Context, sess *Session) error {
	release, err := m.locks.acquire(sess.RepoPath)
	if err != nil {
		return err
	}
	defer release()
	repo, err := m.open(sess.Engine, sess.RepoPath)
	if err != nil {
		return err
	}
	defer repo.Close()
	id, err := repo.CreateChange("agent session "+shortID(sess.ID), vcs.CreateOptions{Base: sess.Base})
	if err != nil {
		return err
	}
	sess.ChangeID = id
	return nil
}

// provisionDedicated adds a linked worktree on a fresh branch. Each
// session owns a distinct subtree, so no lock is needed; only the
// branch namespace is shared, and generated names keep it collision
// free.
func (m *Manager) provisionDedicated(ctx context.Context, sess *Session) error {
	repo, err := m.open(sess.Engine, sess.RepoPath)
	if err != nil {
		return err
	}
	defer repo.Close()
	wt, ok := repo.(worktreeManager)
	if !ok {
		return fmt.Errorf("engine %s cannot provision dedicated workspaces", sess.Engine)
	}
	sess.Branch = sessionBranchName(sess.ID)
	sess.Workdir = filepath.Join(m.workspaceRoot, sess.ID)
	if err := os.MkdirAll(m.workspaceRoot, 0o755); err != nil {
		return fmt.Errorf("create workspace root: %w", err)
	}
	return wt.AddWorktree(sess.Workdir, sess.Branch, sess.Base)
}

// SwitchSession re-points the active working view at the session's
// change or branch. For the shared strategy this steals the single
// materialized working copy from whichever session held it.
func (m *Manager) SwitchSession(ctx context.Context, sessionID string) error {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.State != StateActive {
		return fmt.Errorf("cannot switch to session %s in state %s", sessionID, sess.State)
	}
	if sess.Dedicated() {
		repo, err := m.open(sess.Engine, sess.Workdir)
		if err != nil {
			return err
		}
		defer repo.Close()
		return repo.SwitchTo(vcs.BranchTarget(sess.Branch))
	}
	release, err := m.locks.acquire(sess.RepoPath)
	if err != nil {
		return err
	}
	defer release()
	repo, err := m.open(sess.Engine, sess.RepoPath)
	if err != nil {
		return err
	}
	defer repo.Close()
	return repo.SwitchTo(vcs.ChangeTarget(sess.ChangeID))
}

// CleanupSession reclaims the session's resources. Idempotent: a
// second call, or a call on an already reclaimed session, is a no-op.
// When the underlying resource is confirmed gone the record is marked
// Reclaimed even if a cleanup step failed, so a partial failure never
// wedges the session.
func (m *Manager) CleanupSession(ctx context.Context, sessionID string) error {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.State == StateReclaimed {
		return nil
	}

	var cleanupErr error
	switch {
	case sess.Dedicated():
		cleanupErr = m.reclaimDedicated(ctx, sess)
	case !sess.ChangeID.IsZero():
		cleanupErr = m.reclaimShared(ctx, sess)
	}
	if cleanupErr != nil {
		return cleanupErr
	}
	return m.store.SetSessionState(ctx, sessionID, StateReclaimed)
}

func (m *Manager) reclaimShared(ctx context.Context, sess *Session) error {
	release, err := m.locks.acquire(sess.RepoPath)
	if err != nil {
		return err
	}
	defer release()
	repo, err := m.open(sess.Engine, sess.RepoPath)
	if err != nil {
		return err
	}
	defer repo.Close()
	exists, err := repo.ChangeExists(sess.ChangeID)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if err := repo.AbandonChange(sess.ChangeID); err != nil {
		// Report but don't wedge when the change is gone regardless.
		if still, checkErr := repo.ChangeExists(sess.ChangeID); checkErr == nil && !still {
			slog.Error("abandon failed but change is gone",
				slog.String("session", sess.ID), slog.Any("error", err))
			return nil
		}
		return err
	}
	return nil
}

func (m *Manager) reclaimDedicated(ctx context.Context, sess *Session) error {
	if _, err := os.Stat(sess.Workdir); os.IsNotExist(err) {
		return nil
	}
	repo, err := m.open(sess.Engine, sess.RepoPath)
	if err != nil {
		return err
	}
	defer repo.Close()
	wt, ok := repo.(worktreeManager)
	if !ok {
		return fmt.Errorf("engine %s cannot reclaim dedicated workspaces", sess.Engine)
	}
	if err := wt.RemoveWorktree(sess.Workdir, true); err != nil {
		if _, statErr := os.Stat(sess.Workdir); os.IsNotExist(statErr) {
			slog.Error("worktree removal failed but directory is gone",
				slog.String("session", sess.ID), slog.Any("error", err))
		} else {
			return err
		}
	}
	if sess.Branch != "" {
		if err := repo.DeleteBranch(sess.Branch); err != nil && !vcs.IsKind(err, vcs.KindBranchNotFound) {
			// The branch is metadata; a leftover label never blocks
			// reclamation.
			slog.Error("session branch not deleted",
				slog.String("session", sess.ID),
				slog.String("branch", sess.Branch),
				slog.Any("error", err))
		}
	}
	return nil
}

// CleanupAll reclaims every non-reclaimed session of a repository,
// logging failures and continuing. The joined error reports what
// could not be reclaimed.
func (m *Manager) CleanupAll(ctx context.Context, repoPath string) error {
	sessions, err := m.store.ListSessions(ctx, repoPath)
	if err != nil {
		return err
	}
	var errs []error
	for _, sess := range sessions {
		if sess.State == StateReclaimed {
			continue
		}
		if err := m.CleanupSession(ctx, sess.ID); err != nil {
			slog.Error("session cleanup failed",
				slog.String("session", sess.ID), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("session %s: %w", sess.ID, err))
		}
	}
	return errors.Join(errs...)
}

// RecoverableSessions lists sessions still marked Active, typically
// after a restart, so the task layer can reconcile or reclaim them.
func (m *Manager) RecoverableSessions(ctx context.Context) ([]*Session, error) {
	return m.store.ActiveSessions(ctx)
}

// SweepOrphans removes workspace directories whose session records are
// reclaimed or missing, and returns the paths it removed.
func (m *Manager) SweepOrphans(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(m.workspaceRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workspace root: %w", err)
	}
	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sess, err := m.store.GetSession(ctx, entry.Name())
		if err == nil && sess.State == StateActive {
			continue
		}
		dir := filepath.Join(m.workspaceRoot, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			slog.Error("orphan workspace not removed",
				slog.String("dir", dir), slog.Any("error", err))
			continue
		}
		removed = append(removed, dir)
	}
	return removed, nil
}

// Status reports the repository's working-copy state.
func (m *Manager) Status(ctx context.Context, repoPath string) (vcs.Status, error) {
	repo, err := m.openRepo(ctx, repoPath)
	if err != nil {
		return vcs.Status{}, err
	}
	defer repo.Close()
	return repo.Status()
}

// DiffSummary reports per-path change kinds between two revisions, or
// the uncommitted working-copy changes when both are zero. pathPrefix
// optionally narrows the result.
func (m *Manager) DiffSummary(ctx context.Context, repoPath string, from, to vcs.ChangeID, pathPrefix string) ([]vcs.DiffEntry, error) {
	repo, err := m.openRepo(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	defer repo.Close()
	var entries []vcs.DiffEntry
	if from.IsZero() && to.IsZero() && repo.Engine() == vcs.EngineGit {
		entries, err = repo.DiffUncommitted()
	} else {
		entries, err = repo.DiffChanges(from, to)
	}
	if err != nil {
		return nil, err
	}
	return vcs.FilterDiff(entries, pathPrefix), nil
}

// ListConflicts reports the repository's current conflicts.
func (m *Manager) ListConflicts(ctx context.Context, repoPath string) ([]vcs.ConflictInfo, error) {
	repo, err := m.openRepo(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	defer repo.Close()
	return repo.ListConflicts()
}

// AbortOperation discards any in-progress merge or rebase in the
// repository. A no-op when nothing is in progress.
func (m *Manager) AbortOperation(ctx context.Context, repoPath string) error {
	repo, err := m.openRepo(ctx, repoPath)
	if err != nil {
		return err
	}
	defer repo.Close()
	release, err := m.locks.acquire(repo.Root())
	if err != nil {
		return err
	}
	defer release()
	return repo.AbortOperation()
}

// Fetch pulls from the remote, bounded by the configured timeout.
// Timeouts surface as errors, never hang, and are not retried here;
// retry policy belongs to the caller.
func (m *Manager) Fetch(ctx context.Context, repoPath string, opts vcs.FetchOptions) error {
	repo, err := m.openRepo(ctx, repoPath)
	if err != nil {
		return err
	}
	defer repo.Close()
	ctx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
	defer cancel()
	return repo.Fetch(ctx, opts)
}

// Push pushes to the remote, bounded by the configured timeout.
// AuthenticationFailed and PushRejected pass through verbatim.
func (m *Manager) Push(ctx context.Context, repoPath string, opts vcs.PushOptions) error {
	repo, err := m.openRepo(ctx, repoPath)
	if err != nil {
		return err
	}
	defer repo.Close()
	ctx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
	defer cancel()
	return repo.Push(ctx, opts)
}

// Observe starts watching the repository's metadata and invokes
// onChange after external mutations settle. Stop the returned watcher
// when done.
func (m *Manager) Observe(repoPath string, onChange func()) (*Watcher, error) {
	_, root, err := m.detect(repoPath)
	if err != nil {
		return nil, err
	}
	w := NewWatcher(root, onChange)
	if err := w.Start(); err != nil {
		return nil, err
	}
	return w, nil
}

// resolveEngine returns the repository's engine, honoring a persisted
// per-repository selection before falling back to metadata detection.
func (m *Manager) resolveEngine(ctx context.Context, repoPath string) (vcs.Engine, string, error) {
	engine, root, err := m.detect(repoPath)
	if err != nil {
		return "", "", err
	}
	if stored, ok, serr := m.store.RepoEngine(ctx, root); serr == nil && ok {
		return stored, root, nil
	}
	if err := m.store.SetRepoEngine(ctx, root, engine); err != nil {
		return "", "", err
	}
	return engine, root, nil
}

func (m *Manager) openRepo(ctx context.Context, repoPath string) (vcs.Repository, error) {
	engine, root, err := m.resolveEngine(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	return m.open(engine, root)
}

// sessionBranchName builds a collision-free branch name: sessions are
// created concurrently and share the ref namespace.
func sessionBranchName(sessionID string) string {
	return "agent/" + shortID(sessionID) + "-" + strings.ToLower(ulid.Make().String())
}

func shortID(sessionID string) string {
	if len(sessionID) > 8 {
		return sessionID[:8]
	}
	return sessionID
}
