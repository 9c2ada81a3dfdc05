package gitvcs

import (
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	"agentvcs/internal/vcs"
)

func (r *Repo) CreateBranch(name string, base vcs.ChangeID) error {
	if err := r.validBranchName(name, "create branch"); err != nil {
		return err
	}
	args := []string{"branch", name}
	if !base.IsZero() {
		if _, err := r.commitFor(base, "create branch"); err != nil {
			return err
		}
		args = append(args, string(base))
	}
	_, err := r.cli.run(args, "git branch")
	return err
}

func (r *Repo) DeleteBranch(name string) error {
	exists, err := r.BranchExists(name)
	if err != nil {
		return err
	}
	if !exists {
		return vcs.Errorf(vcs.KindBranchNotFound, "delete branch", "%s", name)
	}
	_, err = r.cli.run([]string{"branch", "-D", name}, "git branch -D")
	return err
}

func (r *Repo) RenameBranch(oldName, newName string) error {
	exists, err := r.BranchExists(oldName)
	if err != nil {
		return err
	}
	if !exists {
		return vcs.Errorf(vcs.KindBranchNotFound, "rename branch", "%s", oldName)
	}
	if err := r.validBranchName(newName, "rename branch"); err != nil {
		return err
	}
	_, err = r.cli.run([]string{"branch", "-m", oldName, newName}, "git branch -m")
	return err
}

func (r *Repo) ListBranches() ([]vcs.BranchInfo, error) {
	refs, err := r.git.References()
	if err != nil {
		return nil, vcs.NewError(vcs.KindBackend, "list branches", err)
	}
	defer refs.Close()

	var current string
	if head, err := r.git.Head(); err == nil && head.Name().IsBranch() {
		current = head.Name().Short()
	}

	var out []vcs.BranchInfo
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		name := ref.Name()
		isBranch := name.IsBranch()
		isRemote := name.IsRemote()
		if !isBranch && !isRemote {
			return nil
		}
		short := name.Short()
		if isRemote && strings.HasSuffix(short, "/HEAD") {
			return nil
		}
		info := vcs.BranchInfo{
			Name:      short,
			Target:    vcs.ChangeID(ref.Hash().String()),
			IsCurrent: isBranch && short == current,
			IsRemote:  isRemote,
		}
		if commit, err := r.git.CommitObject(ref.Hash()); err == nil {
			info.LastUpdated = commit.Committer.When
		}
		out = append(out, info)
		return nil
	})
	if err != nil {
		return nil, vcs.NewError(vcs.KindBackend, "list branches", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Repo) BranchExists(name string) (bool, error) {
	_, err := r.git.Reference(plumbing.NewBranchReferenceName(name), false)
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return false, nil
		}
		return false, vcs.NewError(vcs.KindBackend, "branch exists", err)
	}
	return true, nil
}

func (r *Repo) CurrentBranch() (string, error) {
	head, err := r.git.Head()
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return "", nil
		}
		return "", vcs.NewError(vcs.KindBackend, "current branch", err)
	}
	if !head.Name().IsBranch() {
		return "", nil
	}
	return head.Name().Short(), nil
}

// SwitchTo checks out a branch or detaches onto a change. Mutates the
// working copy, so it runs through the CLI.
func (r *Repo) SwitchTo(target vcs.Target) error {
	if target.IsBranch() {
		exists, err := r.BranchExists(target.Branch)
		if err != nil {
			return err
		}
		if !exists {
			return vcs.Errorf(vcs.KindBranchNotFound, "switch", "%s", target.Branch)
		}
		_, err = r.cli.run([]string{"checkout", target.Branch}, "git checkout")
		return err
	}
	if _, err := r.commitFor(target.Change, "switch"); err != nil {
		return err
	}
	_, err := r.cli.run([]string{"checkout", "--detach", string(target.Change)}, "git checkout")
	return err
}

// IsBranchNameValid asks git's own ref-format rules.
func (r *Repo) IsBranchNameValid(name string) bool {
	if name == "" {
		return false
	}
	_, err := r.cli.run([]string{"check-ref-format", "--branch", name}, "git check-ref-format")
	return err == nil
}

func (r *Repo) validBranchName(name, op string) error {
	if !r.IsBranchNameValid(name) {
		return vcs.Errorf(vcs.KindBackend, op, "invalid branch name %q", name)
	}
	return nil
}

// AddWorktree materializes a new linked working directory at dir,
// checked out to a fresh branch created from base. Used by the session
// layer's dedicated-directory strategy.
func (r *Repo) AddWorktree(dir, branch string, base vcs.ChangeID) error {
	if err := r.validBranchName(branch, "add worktree"); err != nil {
		return err
	}
	args := []string{"worktree", "add", "-b", branch, dir}
	if !base.IsZero() {
		if _, err := r.commitFor(base, "add worktree"); err != nil {
			return err
		}
		args = append(args, string(base))
	}
	_, err := r.cli.run(args, "git worktree add")
	return err
}

// RemoveWorktree detaches and deletes the linked working directory.
func (r *Repo) RemoveWorktree(dir string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, dir)
	if _, err := r.cli.run(args, "git worktree remove"); err != nil {
		return err
	}
	_, err := r.cli.run([]string{"worktree", "prune"}, "git worktree prune")
	return err
}
