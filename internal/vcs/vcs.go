// Package vcs defines the uniform vocabulary shared by the two engine
// adapters: identifiers, branch and diff descriptors, the closed error
// taxonomy, and the capability interfaces a repository handle exposes.
package vcs

import (
	"context"
	"os"
	"path/filepath"
)

// Changes is the revision capability group.
type Changes interface {
	// Head describes the currently materialized revision.
	Head() (HeadInfo, error)
	// CreateChange records the working copy as a new revision with the
	// given message and returns its identifier.
	CreateChange(message string, opts CreateOptions) (ChangeID, error)
	// AmendChange rewrites the current revision's message.
	AmendChange(message string) error
	GetChange(id ChangeID) (ChangeInfo, error)
	ChangeExists(id ChangeID) (bool, error)
	// ListChanges returns revisions newest first.
	ListChanges(filter ChangeFilter) ([]ChangeInfo, error)
	// AbandonChange removes the revision from the visible graph. Under
	// git this is a local-only discard and fails with KindUnsupported
	// when the commit is reachable from a remote-tracking ref.
	AbandonChange(id ChangeID) error
}

// Branches is the branch capability group.
type Branches interface {
	// CreateBranch points a new branch at base, or at head when base is
	// zero.
	CreateBranch(name string, base ChangeID) error
	DeleteBranch(name string) error
	RenameBranch(oldName, newName string) error
	ListBranches() ([]BranchInfo, error)
	BranchExists(name string) (bool, error)
	// CurrentBranch returns "" when no branch points at head.
	CurrentBranch() (string, error)
	// SwitchTo materializes the target in the working copy. This is the
	// one call guaranteed to mutate visible file contents; callers must
	// not run it concurrently against a shared directory.
	SwitchTo(target Target) error
}

// Remotes is the remote capability group. All calls may block on the
// network and honor ctx cancellation and deadlines.
type Remotes interface {
	ListRemotes() ([]Remote, error)
	RemoteURL(name string) (string, error)
	SetRemoteURL(name, url string) error
	Fetch(ctx context.Context, opts FetchOptions) error
	Push(ctx context.Context, opts PushOptions) error
	RemoteBranchExists(ctx context.Context, remote, branch string) (bool, error)
}

// Differ is the diff and status capability group.
type Differ interface {
	Status() (Status, error)
	// DiffChanges summarizes from..to per path.
	DiffChanges(from, to ChangeID) ([]DiffEntry, error)
	// DiffUncommitted summarizes working-copy edits not yet recorded in
	// a revision. Always empty under jj, which has no such state.
	DiffUncommitted() ([]DiffEntry, error)
}

// Conflicts is the conflict capability group.
type Conflicts interface {
	HasConflicts() (bool, error)
	// ListConflicts reflects the working state at this instant; results
	// are never cached.
	ListConflicts() ([]ConflictInfo, error)
	// ResolveConflict marks the path resolved. Content-level resolution
	// is the caller's business.
	ResolveConflict(path string) error
	// AbortOperation discards any in-progress merge or rebase and
	// restores the pre-operation state. Idempotent: calling it with
	// nothing in progress is a no-op.
	AbortOperation() error
}

// Repository is a handle bound to one filesystem root. The engine is
// fixed for the handle's lifetime.
type Repository interface {
	Root() string
	Engine() Engine
	// IsClean reports no conflicts and no operation in progress.
	IsClean() (bool, error)
	Close() error

	Changes
	Branches
	Remotes
	Differ
	Conflicts
}

// Detect walks up from path looking for engine metadata and returns the
// engine plus the repository root. A .jj directory wins over .git when
// both are present (jj colocates with a backing git store). A .git
// entry of either form counts: linked worktrees carry a plain .git
// file pointing at the real store. Neither found means
// KindRepositoryNotFound.
func Detect(path string) (Engine, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", NewError(KindRepositoryNotFound, "detect backend", err)
	}
	dir := abs
	for {
		if hasDir(filepath.Join(dir, ".jj")) {
			return EngineJJ, dir, nil
		}
		// .git is a directory in a primary working copy and a gitdir
		// pointer file in a linked worktree; both mark a git root.
		if hasEntry(filepath.Join(dir, ".git")) {
			return EngineGit, dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", Errorf(KindRepositoryNotFound, "detect backend",
				"no repository found at or above %s", abs)
		}
		dir = parent
	}
}

func hasDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func hasEntry(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
