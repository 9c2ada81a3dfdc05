// Package gitvcs adapts a git repository to the vcs contract. History
// and ref queries run in-process through go-git; anything that touches
// the working directory or index is delegated to the git CLI, which
// owns the exact checkout, merge, and hook semantics.
package gitvcs

import (
	"fmt"
	"path/filepath"
	"strings"

	gitlib "github.com/go-git/go-git/v5"

	"agentvcs/internal/vcs"
)

var _ vcs.Repository = (*Repo)(nil)

// Repo is a handle bound to one git repository root.
type Repo struct {
	root   string
	gitDir string
	git    *gitlib.Repository
	cli    runner
}

// Open binds a handle to the repository containing path.
func Open(path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, vcs.NewError(vcs.KindRepositoryNotFound, "open repository", err)
	}
	git, err := gitlib.PlainOpenWithOptions(abs, &gitlib.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, vcs.NewError(vcs.KindRepositoryNotFound, "open repository",
			fmt.Errorf("%s: %w", abs, err))
	}
	cli := runner{root: abs}
	root, err := cli.run([]string{"rev-parse", "--show-toplevel"}, "git rev-parse")
	if err != nil {
		return nil, err
	}
	root = strings.TrimSpace(root)
	cli.root = root
	// The metadata dir is not always root/.git: linked worktrees carry a
	// .git file pointing elsewhere.
	gitDir, err := cli.run([]string{"rev-parse", "--absolute-git-dir"}, "git rev-parse")
	if err != nil {
		return nil, err
	}
	return &Repo{
		root:   root,
		gitDir: strings.TrimSpace(gitDir),
		git:    git,
		cli:    cli,
	}, nil
}

// Init creates a new repository at path and returns a handle to it.
func Init(path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, vcs.NewError(vcs.KindBackend, "init repository", err)
	}
	if _, err := gitlib.PlainInit(abs, false); err != nil {
		return nil, vcs.NewError(vcs.KindBackend, "init repository", err)
	}
	return Open(abs)
}

// Clone clones url into path and returns a handle to the clone.
func Clone(url, path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, vcs.NewError(vcs.KindBackend, "clone repository", err)
	}
	cli := runner{root: filepath.Dir(abs)}
	if _, err := cli.run([]string{"clone", url, abs}, "git clone"); err != nil {
		return nil, err
	}
	return Open(abs)
}

func (r *Repo) Root() string       { return r.root }
func (r *Repo) Engine() vcs.Engine { return vcs.EngineGit }
func (r *Repo) Close() error       { return nil }

// IsClean reports no unresolved conflicts and no merge or rebase in
// progress.
func (r *Repo) IsClean() (bool, error) {
	if op := r.operationInProgress(); op != "" {
		return false, nil
	}
	has, err := r.HasConflicts()
	if err != nil {
		return false, err
	}
	return !has, nil
}
