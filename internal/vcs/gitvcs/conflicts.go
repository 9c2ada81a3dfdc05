package gitvcs

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"agentvcs/internal/vcs"
)

func (r *Repo) HasConflicts() (bool, error) {
	conflicts, err := r.ListConflicts()
	if err != nil {
		return false, err
	}
	return len(conflicts) > 0, nil
}

// ListConflicts reads the index's unmerged entries. The three stages
// are the merge base, ours, and theirs blob ids; any of the three may
// be missing (add/add conflicts have no base, delete conflicts lack a
// side).
func (r *Repo) ListConflicts() ([]vcs.ConflictInfo, error) {
	out, err := r.cli.run([]string{"ls-files", "-u"}, "git ls-files -u")
	if err != nil {
		return nil, err
	}
	conflicts, err := parseUnmergedEntries(strings.NewReader(out))
	if err != nil {
		return nil, vcs.NewError(vcs.KindBackend, "parse unmerged entries", err)
	}
	return conflicts, nil
}

// parseUnmergedEntries reads `git ls-files -u` output:
//
//	<mode> <object> <stage>TAB<path>
func parseUnmergedEntries(r io.Reader) ([]vcs.ConflictInfo, error) {
	type sides struct {
		base, ours, theirs vcs.ChangeID
	}
	byPath := map[string]*sides{}
	var order []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		meta, path, found := strings.Cut(line, "\t")
		if !found {
			continue
		}
		fields := strings.Fields(meta)
		if len(fields) != 3 {
			continue
		}
		blob := vcs.ChangeID(fields[1])
		s := byPath[path]
		if s == nil {
			s = &sides{}
			byPath[path] = s
			order = append(order, path)
		}
		switch fields[2] {
		case "1":
			s.base = blob
		case "2":
			s.ours = blob
		case "3":
			s.theirs = blob
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	sort.Strings(order)
	out := make([]vcs.ConflictInfo, 0, len(order))
	for _, path := range order {
		s := byPath[path]
		info := vcs.ConflictInfo{Path: path, Ours: s.ours, Theirs: s.theirs}
		if !s.base.IsZero() {
			base := s.base
			info.Base = &base
		}
		out = append(out, info)
	}
	return out, nil
}

// ConflictPreview renders a unified diff of the two sides of a
// conflicted path for display.
func (r *Repo) ConflictPreview(path string) (string, error) {
	ours, err := r.cli.run([]string{"show", ":2:" + path}, "git show")
	if err != nil {
		ours = ""
	}
	theirs, err := r.cli.run([]string{"show", ":3:" + path}, "git show")
	if err != nil {
		theirs = ""
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(ours),
		B:        difflib.SplitLines(theirs),
		FromFile: "ours/" + path,
		ToFile:   "theirs/" + path,
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}

// ResolveConflict marks the path resolved by staging its current
// working-copy content.
func (r *Repo) ResolveConflict(path string) error {
	_, err := r.cli.run([]string{"add", "--", path}, "git add")
	return err
}

// AbortOperation discards whatever merge, rebase, cherry-pick, or
// revert is in progress. A no-op when nothing is.
func (r *Repo) AbortOperation() error {
	switch r.operationInProgress() {
	case "merge":
		_, err := r.cli.run([]string{"merge", "--abort"}, "git merge --abort")
		return err
	case "rebase":
		_, err := r.cli.run([]string{"rebase", "--abort"}, "git rebase --abort")
		return err
	case "cherry-pick":
		_, err := r.cli.run([]string{"cherry-pick", "--abort"}, "git cherry-pick --abort")
		return err
	case "revert":
		_, err := r.cli.run([]string{"revert", "--abort"}, "git revert --abort")
		return err
	}
	return nil
}

// operationInProgress inspects the metadata directory's state files.
// The answer names which abort command applies; callers outside the
// adapter only ever learn a boolean.
func (r *Repo) operationInProgress() string {
	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(r.gitDir, name))
		return err == nil
	}
	switch {
	case exists("rebase-merge"), exists("rebase-apply"):
		return "rebase"
	case exists("MERGE_HEAD"):
		return "merge"
	case exists("CHERRY_PICK_HEAD"):
		return "cherry-pick"
	case exists("REVERT_HEAD"):
		return "revert"
	}
	return ""
}
