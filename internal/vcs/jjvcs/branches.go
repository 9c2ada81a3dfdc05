package jjvcs

import (
	"sort"
	"strings"

	"agentvcs/internal/vcs"
)

// CreateBranch points a new branch at base, or at the current change
// when base is zero. jj branches are plain labels on changes.
func (r *Repo) CreateBranch(name string, base vcs.ChangeID) error {
	if name == "" {
		return vcs.Errorf(vcs.KindBackend, "jj branch create", "empty branch name")
	}
	args := []string{"branch", "create", name}
	if !base.IsZero() {
		args = append(args, "-r", string(base))
	}
	_, err := r.cli.run(args, "jj branch create")
	return err
}

// SetBranch moves an existing branch to the given change.
func (r *Repo) SetBranch(name string, target vcs.ChangeID) error {
	_, err := r.cli.run([]string{"branch", "set", name, "-r", string(target)}, "jj branch set")
	return err
}

func (r *Repo) DeleteBranch(name string) error {
	exists, err := r.BranchExists(name)
	if err != nil {
		return err
	}
	if !exists {
		return vcs.Errorf(vcs.KindBranchNotFound, "jj branch delete", "%s", name)
	}
	_, err = r.cli.run([]string{"branch", "delete", name}, "jj branch delete")
	return err
}

func (r *Repo) RenameBranch(oldName, newName string) error {
	exists, err := r.BranchExists(oldName)
	if err != nil {
		return err
	}
	if !exists {
		return vcs.Errorf(vcs.KindBranchNotFound, "jj branch rename", "%s", oldName)
	}
	_, err = r.cli.run([]string{"branch", "rename", oldName, newName}, "jj branch rename")
	return err
}

func (r *Repo) ListBranches() ([]vcs.BranchInfo, error) {
	out, err := r.cli.run([]string{"branch", "list", "--all"}, "jj branch list")
	if err != nil {
		return nil, err
	}
	branches := parseBranchList(out)

	var currentID vcs.ChangeID
	if current, err := r.currentChange(); err == nil {
		currentID = current.ID
	}
	for i := range branches {
		// The list output has no timestamps; borrow the target change's.
		if info, err := r.GetChange(branches[i].Target); err == nil {
			branches[i].LastUpdated = info.Timestamp
			// The list prints abbreviated ids; prefer the full one.
			branches[i].Target = info.ID
		}
		branches[i].IsCurrent = !branches[i].IsRemote && branches[i].Target == currentID
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i].Name < branches[j].Name })
	return branches, nil
}

func (r *Repo) BranchExists(name string) (bool, error) {
	out, err := r.cli.run([]string{"branch", "list"}, "jj branch list")
	if err != nil {
		return false, err
	}
	for _, b := range parseBranchList(out) {
		if b.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// CurrentBranch returns a branch pointing at the current change, or ""
// when none does. jj has no checked-out branch concept; this is the
// closest equivalent.
func (r *Repo) CurrentBranch() (string, error) {
	current, err := r.currentChange()
	if err != nil {
		return "", err
	}
	out, err := r.cli.run([]string{"branch", "list"}, "jj branch list")
	if err != nil {
		return "", err
	}
	for _, b := range parseBranchList(out) {
		if b.IsRemote {
			continue
		}
		if !b.Target.IsZero() && strings.HasPrefix(string(current.ID), string(b.Target)) {
			return b.Name, nil
		}
		if info, err := r.GetChange(b.Target); err == nil && info.ID == current.ID {
			return b.Name, nil
		}
	}
	return "", nil
}

// SwitchTo makes the target change the working copy via jj edit. This
// mutates the shared directory's file contents; the session layer
// serializes callers.
func (r *Repo) SwitchTo(target vcs.Target) error {
	rev := string(target.Change)
	if target.IsBranch() {
		exists, err := r.BranchExists(target.Branch)
		if err != nil {
			return err
		}
		if !exists {
			return vcs.Errorf(vcs.KindBranchNotFound, "jj edit", "%s", target.Branch)
		}
		rev = target.Branch
	} else if target.Change.IsZero() {
		return vcs.Errorf(vcs.KindInvalidChangeID, "jj edit", "empty target")
	}
	_, err := r.cli.run([]string{"edit", rev}, "jj edit")
	return err
}
