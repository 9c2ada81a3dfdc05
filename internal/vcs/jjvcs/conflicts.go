package jjvcs

import (
	"strings"

	"agentvcs/internal/vcs"
)

func (r *Repo) Status() (vcs.Status, error) {
	out, err := r.cli.run([]string{"status"}, "jj status")
	if err != nil {
		return vcs.Status{}, err
	}
	return parseStatus(out), nil
}

// DiffChanges summarizes from..to per path.
func (r *Repo) DiffChanges(from, to vcs.ChangeID) ([]vcs.DiffEntry, error) {
	args := []string{"diff", "--summary"}
	if !from.IsZero() {
		args = append(args, "--from", string(from))
	}
	if !to.IsZero() {
		args = append(args, "--to", string(to))
	}
	out, err := r.cli.run(args, "jj diff")
	if err != nil {
		return nil, err
	}
	entries, err := parseDiffSummary(out)
	if err != nil {
		return nil, vcs.NewError(vcs.KindBackend, "jj diff", err)
	}
	return entries, nil
}

// DiffUncommitted is always empty: every edit is already part of the
// current change.
func (r *Repo) DiffUncommitted() ([]vcs.DiffEntry, error) {
	return nil, nil
}

func (r *Repo) HasConflicts() (bool, error) {
	conflicts, err := r.ListConflicts()
	if err != nil {
		return false, err
	}
	return len(conflicts) > 0, nil
}

// ListConflicts builds three-way descriptors for the working copy's
// conflicted paths. Ours is the current change; theirs is the merge's
// other parent when the current change is a merge; base is their
// common ancestor.
func (r *Repo) ListConflicts() ([]vcs.ConflictInfo, error) {
	status, err := r.Status()
	if err != nil {
		return nil, err
	}
	if len(status.Conflicted) == 0 {
		return nil, nil
	}
	current, err := r.currentChange()
	if err != nil {
		return nil, err
	}
	var theirs vcs.ChangeID
	var base *vcs.ChangeID
	if len(current.Parents) >= 2 {
		theirs = current.Parents[1]
		if ancestor, err := r.mergeBase(current.Parents[0], current.Parents[1]); err == nil && !ancestor.IsZero() {
			base = &ancestor
		}
	} else if len(current.Parents) == 1 {
		theirs = current.Parents[0]
	}

	out := make([]vcs.ConflictInfo, 0, len(status.Conflicted))
	for _, path := range status.Conflicted {
		out = append(out, vcs.ConflictInfo{
			Path:   path,
			Base:   base,
			Ours:   current.ID,
			Theirs: theirs,
		})
	}
	return out, nil
}

// ResolveConflict marks the path's conflict as resolved with its
// current working-copy content.
func (r *Repo) ResolveConflict(path string) error {
	if path == "" {
		return vcs.Errorf(vcs.KindBackend, "jj resolve", "empty path")
	}
	_, err := r.cli.run([]string{"resolve", "--mark-resolved", path}, "jj resolve")
	return err
}

// AbortOperation backs out the operation that introduced the working
// copy's conflicts. jj has no in-progress state machine, so with no
// conflicts present there is nothing to abort and this is a no-op.
func (r *Repo) AbortOperation() error {
	has, err := r.HasConflicts()
	if err != nil {
		return err
	}
	if !has {
		return nil
	}
	_, err = r.cli.run([]string{"undo"}, "jj undo")
	return err
}

// mergeBase finds the common ancestor of two changes. heads(::a & ::b)
// works on every jj release, unlike the newer fork_point revset.
func (r *Repo) mergeBase(a, b vcs.ChangeID) (vcs.ChangeID, error) {
	revset := "heads(::" + string(a) + " & ::" + string(b) + ")"
	out, err := r.cli.run([]string{"log", "-r", revset, "--no-graph", "-T", `change_id ++ "\n"`}, "jj log")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		if id := strings.TrimSpace(line); id != "" {
			return vcs.ChangeID(id), nil
		}
	}
	return "", nil
}
