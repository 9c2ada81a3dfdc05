package gitvcs

import (
	"io"
	"strings"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"agentvcs/internal/vcs"
)

func (r *Repo) Head() (vcs.HeadInfo, error) {
	ref, err := r.git.Head()
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			// Unborn branch: repository exists but has no commits yet.
			return vcs.HeadInfo{}, nil
		}
		return vcs.HeadInfo{}, vcs.NewError(vcs.KindBackend, "resolve head", err)
	}
	info := vcs.HeadInfo{ID: vcs.ChangeID(ref.Hash().String())}
	if ref.Name().IsBranch() {
		info.Branch = ref.Name().Short()
	}
	if commit, err := r.git.CommitObject(ref.Hash()); err == nil {
		info.Description = firstLine(commit.Message)
	}
	return info, nil
}

// CreateChange stages the working copy and commits it. The resulting
// commit hash is the change id; it is not stable across amend.
func (r *Repo) CreateChange(message string, opts vcs.CreateOptions) (vcs.ChangeID, error) {
	stage := "-u"
	if opts.StageAll {
		stage = "-A"
	}
	if _, err := r.cli.run([]string{"add", stage}, "git add"); err != nil {
		return "", err
	}
	// --allow-empty keeps the operation total: a change can be opened
	// before any edit exists, matching the change engine's semantics.
	if _, err := r.cli.run([]string{"commit", "--allow-empty", "-m", message}, "git commit"); err != nil {
		return "", err
	}
	out, err := r.cli.run([]string{"rev-parse", "HEAD"}, "git rev-parse")
	if err != nil {
		return "", err
	}
	return vcs.ChangeID(strings.TrimSpace(out)), nil
}

func (r *Repo) AmendChange(message string) error {
	_, err := r.cli.run([]string{"commit", "--amend", "--allow-empty", "-m", message}, "git commit --amend")
	return err
}

func (r *Repo) GetChange(id vcs.ChangeID) (vcs.ChangeInfo, error) {
	commit, err := r.commitFor(id, "get change")
	if err != nil {
		return vcs.ChangeInfo{}, err
	}
	return commitInfo(commit), nil
}

func (r *Repo) ChangeExists(id vcs.ChangeID) (bool, error) {
	if id.IsZero() {
		return false, nil
	}
	_, err := r.git.ResolveRevision(plumbing.Revision(id))
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (r *Repo) ListChanges(filter vcs.ChangeFilter) ([]vcs.ChangeInfo, error) {
	from, err := r.logStart(filter.Branch)
	if err != nil {
		return nil, err
	}
	if from == plumbing.ZeroHash {
		return nil, nil
	}
	iter, err := r.git.Log(&gitlib.LogOptions{From: from, Order: gitlib.LogOrderCommitterTime})
	if err != nil {
		return nil, vcs.NewError(vcs.KindBackend, "list changes", err)
	}
	defer iter.Close()

	var out []vcs.ChangeInfo
	for {
		commit, err := iter.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, vcs.NewError(vcs.KindBackend, "list changes", err)
		}
		if !filter.Since.IsZero() && commit.Committer.When.Before(filter.Since) {
			continue
		}
		if filter.Author != "" && !matchesAuthor(commit, filter.Author) {
			continue
		}
		out = append(out, commitInfo(commit))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// AbandonChange discards id from local history. It refuses with
// KindUnsupported when the commit is already reachable from a
// remote-tracking ref, and only supports discarding the current head:
// rewriting arbitrary interior history is not a session operation.
func (r *Repo) AbandonChange(id vcs.ChangeID) error {
	commit, err := r.commitFor(id, "abandon change")
	if err != nil {
		return err
	}
	pushed, err := r.cli.run([]string{"branch", "-r", "--contains", commit.Hash.String()}, "git branch -r")
	if err != nil {
		return err
	}
	if strings.TrimSpace(pushed) != "" {
		return vcs.Errorf(vcs.KindUnsupported, "abandon change",
			"%s is reachable from a remote-tracking branch", id.Short())
	}
	head, err := r.git.Head()
	if err != nil {
		return vcs.NewError(vcs.KindBackend, "abandon change", err)
	}
	if head.Hash() != commit.Hash {
		return vcs.Errorf(vcs.KindUnsupported, "abandon change",
			"%s is not the current head", id.Short())
	}
	if commit.NumParents() == 0 {
		return vcs.Errorf(vcs.KindUnsupported, "abandon change",
			"cannot discard the root commit")
	}
	_, err = r.cli.run([]string{"reset", "--hard", "HEAD~1"}, "git reset")
	return err
}

func (r *Repo) commitFor(id vcs.ChangeID, op string) (*object.Commit, error) {
	if id.IsZero() {
		return nil, vcs.Errorf(vcs.KindInvalidChangeID, op, "empty change id")
	}
	hash, err := r.git.ResolveRevision(plumbing.Revision(id))
	if err != nil {
		return nil, vcs.Errorf(vcs.KindInvalidChangeID, op, "%s: %v", id, err)
	}
	commit, err := r.git.CommitObject(*hash)
	if err != nil {
		return nil, vcs.Errorf(vcs.KindInvalidChangeID, op, "%s: %v", id, err)
	}
	return commit, nil
}

func (r *Repo) logStart(branch string) (plumbing.Hash, error) {
	if branch == "" {
		ref, err := r.git.Head()
		if err != nil {
			if err == plumbing.ErrReferenceNotFound {
				return plumbing.ZeroHash, nil
			}
			return plumbing.ZeroHash, vcs.NewError(vcs.KindBackend, "list changes", err)
		}
		return ref.Hash(), nil
	}
	ref, err := r.git.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return plumbing.ZeroHash, vcs.Errorf(vcs.KindBranchNotFound, "list changes", "%s: %v", branch, err)
	}
	return ref.Hash(), nil
}

func commitInfo(c *object.Commit) vcs.ChangeInfo {
	parents := make([]vcs.ChangeID, 0, c.NumParents())
	for _, p := range c.ParentHashes {
		parents = append(parents, vcs.ChangeID(p.String()))
	}
	return vcs.ChangeInfo{
		ID:        vcs.ChangeID(c.Hash.String()),
		Parents:   parents,
		Author:    c.Author.Name,
		Email:     c.Author.Email,
		Timestamp: c.Committer.When,
		Message:   c.Message,
	}
}

func matchesAuthor(c *object.Commit, author string) bool {
	needle := strings.ToLower(author)
	return strings.Contains(strings.ToLower(c.Author.Name), needle) ||
		strings.Contains(strings.ToLower(c.Author.Email), needle)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
