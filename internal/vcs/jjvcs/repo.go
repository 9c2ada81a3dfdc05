// Package jjvcs adapts a jj (Jujutsu) repository to the vcs contract.
// Every working-copy edit is already part of the current change, so
// there is no staging step; the adapter drives the jj CLI and keeps the
// engine's view reconciled with the backing git store through
// import/export steps that callers never see.
package jjvcs

import (
	"fmt"
	"os"
	"path/filepath"

	"agentvcs/internal/vcs"
)

var _ vcs.Repository = (*Repo)(nil)

// Repo is a handle bound to one jj repository root.
type Repo struct {
	root string
	cli  runner
}

// Open binds a handle to the jj repository at path.
func Open(path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, vcs.NewError(vcs.KindRepositoryNotFound, "open repository", err)
	}
	if info, err := os.Stat(filepath.Join(abs, ".jj")); err != nil || !info.IsDir() {
		return nil, vcs.Errorf(vcs.KindRepositoryNotFound, "open repository",
			"%s has no .jj directory", abs)
	}
	return &Repo{root: abs, cli: runner{root: abs}}, nil
}

// Init creates a jj repository at path backed by a colocated git store.
func Init(path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, vcs.NewError(vcs.KindBackend, "init repository", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, vcs.NewError(vcs.KindBackend, "init repository", err)
	}
	cli := runner{root: abs}
	if _, err := cli.run([]string{"git", "init", "--colocate"}, "jj git init"); err != nil {
		return nil, err
	}
	return Open(abs)
}

// Clone clones a git URL into path through jj's git bridge.
func Clone(url, path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, vcs.NewError(vcs.KindBackend, "clone repository", err)
	}
	cli := runner{root: filepath.Dir(abs)}
	if _, err := cli.run([]string{"git", "clone", url, filepath.Base(abs)}, "jj git clone"); err != nil {
		return nil, err
	}
	return Open(abs)
}

func (r *Repo) Root() string       { return r.root }
func (r *Repo) Engine() vcs.Engine { return vcs.EngineJJ }
func (r *Repo) Close() error       { return nil }

// IsClean reports no unresolved conflicts. jj has no separate
// operation-in-progress state; conflicts are ordinary committed
// content until resolved.
func (r *Repo) IsClean() (bool, error) {
	has, err := r.HasConflicts()
	if err != nil {
		return false, err
	}
	return !has, nil
}

func (r *Repo) String() string {
	return fmt.Sprintf("jj repository at %s", r.root)
}
