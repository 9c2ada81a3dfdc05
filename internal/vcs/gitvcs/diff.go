package gitvcs

import (
	"context"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"agentvcs/internal/vcs"
)

// DiffChanges summarizes from..to with rename detection, through the
// embedded tree differ rather than a subprocess. A zero id on either
// side means the current head, matching the change engine's optional
// diff endpoints.
func (r *Repo) DiffChanges(from, to vcs.ChangeID) ([]vcs.DiffEntry, error) {
	if from.IsZero() {
		from = "HEAD"
	}
	if to.IsZero() {
		to = "HEAD"
	}
	fromTree, err := r.treeFor(from, "diff changes")
	if err != nil {
		return nil, err
	}
	toTree, err := r.treeFor(to, "diff changes")
	if err != nil {
		return nil, err
	}
	changes, err := object.DiffTreeWithOptions(context.Background(), fromTree, toTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, vcs.NewError(vcs.KindBackend, "diff changes", err)
	}
	entries := make([]vcs.DiffEntry, 0, len(changes))
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return nil, vcs.NewError(vcs.KindBackend, "diff changes", err)
		}
		switch action {
		case merkletrie.Insert:
			entries = append(entries, vcs.DiffEntry{Kind: vcs.Added, Path: ch.To.Name})
		case merkletrie.Delete:
			entries = append(entries, vcs.DiffEntry{Kind: vcs.Deleted, Path: ch.From.Name})
		case merkletrie.Modify:
			if ch.From.Name != ch.To.Name {
				entries = append(entries, vcs.DiffEntry{
					Kind:    vcs.Renamed,
					Path:    ch.To.Name,
					OldPath: ch.From.Name,
				})
			} else {
				entries = append(entries, vcs.DiffEntry{Kind: vcs.Modified, Path: ch.To.Name})
			}
		}
	}
	normalized, err := vcs.NormalizeDiff(entries)
	if err != nil {
		return nil, vcs.NewError(vcs.KindBackend, "diff changes", err)
	}
	return normalized, nil
}

// DiffUncommitted summarizes working-copy edits not yet committed,
// staged or not.
func (r *Repo) DiffUncommitted() ([]vcs.DiffEntry, error) {
	wt, err := r.git.Worktree()
	if err != nil {
		return nil, vcs.NewError(vcs.KindBackend, "diff uncommitted", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, vcs.NewError(vcs.KindBackend, "diff uncommitted", err)
	}
	var entries []vcs.DiffEntry
	for path, st := range status {
		entry, ok := worktreeEntry(path, st)
		if ok {
			entries = append(entries, entry)
		}
	}
	normalized, err := vcs.NormalizeDiff(entries)
	if err != nil {
		return nil, vcs.NewError(vcs.KindBackend, "diff uncommitted", err)
	}
	return normalized, nil
}

func worktreeEntry(path string, st *gitlib.FileStatus) (vcs.DiffEntry, bool) {
	code := st.Worktree
	if code == gitlib.Unmodified {
		code = st.Staging
	}
	switch code {
	case gitlib.Untracked, gitlib.Added:
		return vcs.DiffEntry{Kind: vcs.Added, Path: path}, true
	case gitlib.Modified:
		return vcs.DiffEntry{Kind: vcs.Modified, Path: path}, true
	case gitlib.Deleted:
		return vcs.DiffEntry{Kind: vcs.Deleted, Path: path}, true
	case gitlib.Renamed:
		return vcs.DiffEntry{Kind: vcs.Renamed, Path: path, OldPath: st.Extra}, true
	case gitlib.Copied:
		return vcs.DiffEntry{Kind: vcs.Copied, Path: path, OldPath: st.Extra}, true
	}
	// Unmodified and unmerged entries: conflicts are reported by
	// ListConflicts, not the diff summary.
	return vcs.DiffEntry{}, false
}

func (r *Repo) treeFor(id vcs.ChangeID, op string) (*object.Tree, error) {
	commit, err := r.commitFor(id, op)
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, vcs.NewError(vcs.KindBackend, op, err)
	}
	return tree, nil
}
