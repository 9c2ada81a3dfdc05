package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentvcs/internal/vcs"
)

// fakeRepo satisfies vcs.Repository plus the worktree surface so the
// manager can be exercised without real repositories on disk.
type fakeRepo struct {
	root   string
	engine vcs.Engine

	nextChange int
	changes    map[vcs.ChangeID]bool
	abandoned  []vcs.ChangeID
	switched   []vcs.Target

	worktrees       map[string]string // dir -> branch
	deletedBranches []string

	diffEntries []vcs.DiffEntry
	conflicts   []vcs.ConflictInfo
	aborted     int
	fetched     int
	pushed      int

	abandonErr         error
	removeErr          error
	keepDirOnRemoveErr bool
}

func newFakeRepo(root string, engine vcs.Engine) *fakeRepo {
	return &fakeRepo{
		root:      root,
		engine:    engine,
		changes:   map[vcs.ChangeID]bool{},
		worktrees: map[string]string{},
	}
}

func (f *fakeRepo) Root() string           { return f.root }
func (f *fakeRepo) Engine() vcs.Engine     { return f.engine }
func (f *fakeRepo) IsClean() (bool, error) { return len(f.conflicts) == 0, nil }
func (f *fakeRepo) Close() error           { return nil }

func (f *fakeRepo) Head() (vcs.HeadInfo, error) {
	return vcs.HeadInfo{ID: vcs.ChangeID(fmt.Sprintf("change-%d", f.nextChange))}, nil
}

func (f *fakeRepo) CreateChange(message string, opts vcs.CreateOptions) (vcs.ChangeID, error) {
	f.nextChange++
	id := vcs.ChangeID(fmt.Sprintf("change-%d", f.nextChange))
	f.changes[id] = true
	return id, nil
}

func (f *fakeRepo) AmendChange(message string) error { return nil }

func (f *fakeRepo) GetChange(id vcs.ChangeID) (vcs.ChangeInfo, error) {
	if !f.changes[id] {
		return vcs.ChangeInfo{}, vcs.Errorf(vcs.KindInvalidChangeID, "get change", "unknown change %s", id)
	}
	return vcs.ChangeInfo{ID: id, Timestamp: time.Now()}, nil
}

func (f *fakeRepo) ChangeExists(id vcs.ChangeID) (bool, error) { return f.changes[id], nil }

func (f *fakeRepo) ListChanges(filter vcs.ChangeFilter) ([]vcs.ChangeInfo, error) { return nil, nil }

func (f *fakeRepo) AbandonChange(id vcs.ChangeID) error {
	if f.abandonErr != nil {
		return f.abandonErr
	}
	delete(f.changes, id)
	f.abandoned = append(f.abandoned, id)
	return nil
}

func (f *fakeRepo) CreateBranch(name string, base vcs.ChangeID) error { return nil }

func (f *fakeRepo) DeleteBranch(name string) error {
	f.deletedBranches = append(f.deletedBranches, name)
	return nil
}

func (f *fakeRepo) RenameBranch(oldName, newName string) error { return nil }
func (f *fakeRepo) ListBranches() ([]vcs.BranchInfo, error)    { return nil, nil }
func (f *fakeRepo) BranchExists(name string) (bool, error)     { return false, nil }
func (f *fakeRepo) CurrentBranch() (string, error)             { return "", nil }

func (f *fakeRepo) SwitchTo(target vcs.Target) error {
	f.switched = append(f.switched, target)
	return nil
}

func (f *fakeRepo) ListRemotes() ([]vcs.Remote, error)    { return nil, nil }
func (f *fakeRepo) RemoteURL(name string) (string, error) { return "", nil }
func (f *fakeRepo) SetRemoteURL(name, url string) error   { return nil }

func (f *fakeRepo) Fetch(ctx context.Context, opts vcs.FetchOptions) error {
	f.fetched++
	return ctx.Err()
}

func (f *fakeRepo) Push(ctx context.Context, opts vcs.PushOptions) error {
	f.pushed++
	return ctx.Err()
}

func (f *fakeRepo) RemoteBranchExists(ctx context.Context, remote, branch string) (bool, error) {
	return false, nil
}

func (f *fakeRepo) Status() (vcs.Status, error) {
	return vcs.Status{Modified: []string{"file.txt"}}, nil
}

func (f *fakeRepo) DiffChanges(from, to vcs.ChangeID) ([]vcs.DiffEntry, error) {
	return f.diffEntries, nil
}

func (f *fakeRepo) DiffUncommitted() ([]vcs.DiffEntry, error) { return f.diffEntries, nil }

func (f *fakeRepo) HasConflicts() (bool, error) { return len(f.conflicts) > 0, nil }

func (f *fakeRepo) ListConflicts() ([]vcs.ConflictInfo, error) { return f.conflicts, nil }

func (f *fakeRepo) ResolveConflict(path string) error { return nil }

func (f *fakeRepo) AbortOperation() error {
	f.aborted++
	return nil
}

func (f *fakeRepo) AddWorktree(dir, branch string, base vcs.ChangeID) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f.worktrees[dir] = branch
	return nil
}

func (f *fakeRepo) RemoveWorktree(dir string, force bool) error {
	if f.removeErr != nil {
		if !f.keepDirOnRemoveErr {
			_ = os.RemoveAll(dir)
		}
		return f.removeErr
	}
	delete(f.worktrees, dir)
	return os.RemoveAll(dir)
}

type managerFixture struct {
	manager *Manager
	repo    *fakeRepo
	root    string
}

func newManagerFixture(t *testing.T, engine vcs.Engine) *managerFixture {
	t.Helper()
	root := t.TempDir()
	repo := newFakeRepo(root, engine)
	store := newTestStore(t)
	m := NewManager(store, Options{WorkspaceRoot: filepath.Join(t.TempDir(), "workspaces")})
	m.detect = func(string) (vcs.Engine, string, error) { return engine, root, nil }
	m.open = func(_ vcs.Engine, _ string) (vcs.Repository, error) { return repo, nil }
	return &managerFixture{manager: m, repo: repo, root: root}
}

func TestCreateSessionRejectsNonUUID(t *testing.T) {
	fx := newManagerFixture(t, vcs.EngineJJ)
	_, err := fx.manager.CreateSession(context.Background(), fx.root, "not-a-uuid", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UUID")
}

func TestCreateSessionSharedStrategy(t *testing.T) {
	fx := newManagerFixture(t, vcs.EngineJJ)
	ctx := context.Background()
	id := uuid.NewString()

	sess, err := fx.manager.CreateSession(ctx, fx.root, id, vcs.ChangeID("base-1"))
	require.NoError(t, err)
	assert.Equal(t, StateActive, sess.State)
	assert.Equal(t, vcs.EngineJJ, sess.Engine)
	assert.False(t, sess.Dedicated())
	assert.False(t, sess.ChangeID.IsZero())
	assert.True(t, fx.repo.changes[sess.ChangeID])

	// The materialization lock must not leak past provisioning.
	_, err = os.Stat(filepath.Join(fx.root, lockFileName))
	assert.True(t, os.IsNotExist(err))

	got, err := fx.manager.store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateActive, got.State)
}

func TestCreateSessionDedicatedStrategy(t *testing.T) {
	fx := newManagerFixture(t, vcs.EngineGit)
	ctx := context.Background()
	id := uuid.NewString()

	sess, err := fx.manager.CreateSession(ctx, fx.root, id, "")
	require.NoError(t, err)
	assert.Equal(t, StateActive, sess.State)
	assert.True(t, sess.Dedicated())
	assert.True(t, strings.HasPrefix(sess.Branch, "agent/"))
	assert.DirExists(t, sess.Workdir)
	assert.Equal(t, sess.Branch, fx.repo.worktrees[sess.Workdir])
}

func TestCreateSessionRejectsDuplicate(t *testing.T) {
	fx := newManagerFixture(t, vcs.EngineJJ)
	ctx := context.Background()
	id := uuid.NewString()

	_, err := fx.manager.CreateSession(ctx, fx.root, id, "")
	require.NoError(t, err)
	_, err = fx.manager.CreateSession(ctx, fx.root, id, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestCreateSessionPersistsEngineSelection(t *testing.T) {
	fx := newManagerFixture(t, vcs.EngineJJ)
	ctx := context.Background()

	_, err := fx.manager.CreateSession(ctx, fx.root, uuid.NewString(), "")
	require.NoError(t, err)

	engine, found, err := fx.manager.store.RepoEngine(ctx, fx.root)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, vcs.EngineJJ, engine)
}

func TestSwitchSessionShared(t *testing.T) {
	fx := newManagerFixture(t, vcs.EngineJJ)
	ctx := context.Background()
	id := uuid.NewString()

	sess, err := fx.manager.CreateSession(ctx, fx.root, id, "")
	require.NoError(t, err)
	require.NoError(t, fx.manager.SwitchSession(ctx, id))

	require.Len(t, fx.repo.switched, 1)
	assert.Equal(t, sess.ChangeID, fx.repo.switched[0].Change)
}

func TestSwitchSessionDedicated(t *testing.T) {
	fx := newManagerFixture(t, vcs.EngineGit)
	ctx := context.Background()
	id := uuid.NewString()

	sess, err := fx.manager.CreateSession(ctx, fx.root, id, "")
	require.NoError(t, err)
	require.NoError(t, fx.manager.SwitchSession(ctx, id))

	require.Len(t, fx.repo.switched, 1)
	assert.Equal(t, sess.Branch, fx.repo.switched[0].Branch)
}

func TestSwitchSessionRejectsReclaimed(t *testing.T) {
	fx := newManagerFixture(t, vcs.EngineJJ)
	ctx := context.Background()
	id := uuid.NewString()

	_, err := fx.manager.CreateSession(ctx, fx.root, id, "")
	require.NoError(t, err)
	require.NoError(t, fx.manager.CleanupSession(ctx, id))

	err = fx.manager.SwitchSession(ctx, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reclaimed")
}

func TestCleanupSessionShared(t *testing.T) {
	fx := newManagerFixture(t, vcs.EngineJJ)
	ctx := context.Background()
	id := uuid.NewString()

	sess, err := fx.manager.CreateSession(ctx, fx.root, id, "")
	require.NoError(t, err)
	require.NoError(t, fx.manager.CleanupSession(ctx, id))

	assert.Equal(t, []vcs.ChangeID{sess.ChangeID}, fx.repo.abandoned)
	got, err := fx.manager.store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateReclaimed, got.State)

	// Second cleanup is a no-op, not a second abandon.
	require.NoError(t, fx.manager.CleanupSession(ctx, id))
	assert.Len(t, fx.repo.abandoned, 1)
}

func TestCleanupSessionDedicated(t *testing.T) {
	fx := newManagerFixture(t, vcs.EngineGit)
	ctx := context.Background()
	id := uuid.NewString()

	sess, err := fx.manager.CreateSession(ctx, fx.root, id, "")
	require.NoError(t, err)
	require.NoError(t, fx.manager.CleanupSession(ctx, id))

	assert.NoDirExists(t, sess.Workdir)
	assert.Contains(t, fx.repo.deletedBranches, sess.Branch)
	got, err := fx.manager.store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateReclaimed, got.State)
}

func TestCleanupSessionReclaimsWhenResourceAlreadyGone(t *testing.T) {
	fx := newManagerFixture(t, vcs.EngineGit)
	ctx := context.Background()
	id := uuid.NewString()

	sess, err := fx.manager.CreateSession(ctx, fx.root, id, "")
	require.NoError(t, err)
	// Someone removed the worktree behind our back.
	require.NoError(t, os.RemoveAll(sess.Workdir))

	require.NoError(t, fx.manager.CleanupSession(ctx, id))
	got, err := fx.manager.store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateReclaimed, got.State)
}

func TestCleanupSessionKeepsActiveOnFailure(t *testing.T) {
	fx := newManagerFixture(t, vcs.EngineGit)
	ctx := context.Background()
	id := uuid.NewString()

	_, err := fx.manager.CreateSession(ctx, fx.root, id, "")
	require.NoError(t, err)
	fx.repo.removeErr = fmt.Errorf("worktree is busy")
	fx.repo.keepDirOnRemoveErr = true

	require.Error(t, fx.manager.CleanupSession(ctx, id))
	got, err := fx.manager.store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateActive, got.State)
}

func TestCleanupAll(t *testing.T) {
	fx := newManagerFixture(t, vcs.EngineJJ)
	ctx := context.Background()

	var ids []string
	for range 3 {
		id := uuid.NewString()
		_, err := fx.manager.CreateSession(ctx, fx.root, id, "")
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, fx.manager.CleanupAll(ctx, fx.root))

	for _, id := range ids {
		got, err := fx.manager.store.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StateReclaimed, got.State)
	}
}

func TestRecoverableSessions(t *testing.T) {
	fx := newManagerFixture(t, vcs.EngineJJ)
	ctx := context.Background()
	id := uuid.NewString()

	_, err := fx.manager.CreateSession(ctx, fx.root, id, "")
	require.NoError(t, err)

	recoverable, err := fx.manager.RecoverableSessions(ctx)
	require.NoError(t, err)
	require.Len(t, recoverable, 1)
	assert.Equal(t, id, recoverable[0].ID)
}

func TestSweepOrphans(t *testing.T) {
	fx := newManagerFixture(t, vcs.EngineGit)
	ctx := context.Background()

	live, err := fx.manager.CreateSession(ctx, fx.root, uuid.NewString(), "")
	require.NoError(t, err)

	orphan := filepath.Join(fx.manager.workspaceRoot, uuid.NewString())
	require.NoError(t, os.MkdirAll(orphan, 0o755))

	removed, err := fx.manager.SweepOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{orphan}, removed)
	assert.DirExists(t, live.Workdir)
}

func TestObserveStartsWatcher(t *testing.T) {
	fx := newManagerFixture(t, vcs.EngineJJ)
	w, err := fx.manager.Observe(fx.root, func() {})
	require.NoError(t, err)
	w.Stop()
}

func TestDiffSummaryAppliesPathFilter(t *testing.T) {
	fx := newManagerFixture(t, vcs.EngineJJ)
	fx.repo.diffEntries = []vcs.DiffEntry{
		{Kind: vcs.Modified, Path: "src/main.go"},
		{Kind: vcs.Added, Path: "docs/readme.md"},
	}

	entries, err := fx.manager.DiffSummary(context.Background(), fx.root, "a", "b", "src")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "src/main.go", entries[0].Path)
}

func TestManagerDelegatesQueries(t *testing.T) {
	fx := newManagerFixture(t, vcs.EngineJJ)
	ctx := context.Background()
	fx.repo.conflicts = []vcs.ConflictInfo{{Path: "file.txt", Ours: "a", Theirs: "b"}}

	status, err := fx.manager.Status(ctx, fx.root)
	require.NoError(t, err)
	assert.Equal(t, []string{"file.txt"}, status.Modified)

	conflicts, err := fx.manager.ListConflicts(ctx, fx.root)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	require.NoError(t, fx.manager.AbortOperation(ctx, fx.root))
	assert.Equal(t, 1, fx.repo.aborted)

	require.NoError(t, fx.manager.Fetch(ctx, fx.root, vcs.FetchOptions{}))
	require.NoError(t, fx.manager.Push(ctx, fx.root, vcs.PushOptions{}))
	assert.Equal(t, 1, fx.repo.fetched)
	assert.Equal(t, 1, fx.repo.pushed)
}
