package jjvcs

import (
	"strings"

	"agentvcs/internal/vcs"
)

func (r *Repo) Head() (vcs.HeadInfo, error) {
	current, err := r.currentChange()
	if err != nil {
		return vcs.HeadInfo{}, err
	}
	info := vcs.HeadInfo{ID: current.ID, Description: current.Summary()}
	branch, err := r.CurrentBranch()
	if err == nil {
		info.Branch = branch
	}
	return info, nil
}

// CreateChange starts a new change on top of the current one, or on an
// explicit base. Prior working-copy edits are already committed to the
// previous change; nothing is staged or snapshotted here.
func (r *Repo) CreateChange(message string, opts vcs.CreateOptions) (vcs.ChangeID, error) {
	args := []string{"new"}
	if !opts.Base.IsZero() {
		args = append(args, string(opts.Base))
	}
	if message != "" {
		args = append(args, "-m", message)
	}
	if _, err := r.cli.run(args, "jj new"); err != nil {
		return "", err
	}
	// jj prints "Working copy now at: ..." on stderr; asking the log
	// for @ afterwards is more robust than scraping it.
	current, err := r.currentChange()
	if err != nil {
		return "", err
	}
	return current.ID, nil
}

// AmendChange rewrites the current change's message. The change id is
// stable across the rewrite.
func (r *Repo) AmendChange(message string) error {
	return r.Describe(message)
}

// Describe sets the message of the current change.
func (r *Repo) Describe(message string) error {
	_, err := r.cli.run([]string{"describe", "-m", message}, "jj describe")
	return err
}

// DescribeRevision sets the message of a specific change.
func (r *Repo) DescribeRevision(id vcs.ChangeID, message string) error {
	if id.IsZero() {
		return vcs.Errorf(vcs.KindInvalidChangeID, "jj describe", "empty change id")
	}
	_, err := r.cli.run([]string{"describe", "-r", string(id), "-m", message}, "jj describe")
	return err
}

func (r *Repo) GetChange(id vcs.ChangeID) (vcs.ChangeInfo, error) {
	if id.IsZero() {
		return vcs.ChangeInfo{}, vcs.Errorf(vcs.KindInvalidChangeID, "get change", "empty change id")
	}
	out, err := r.cli.run([]string{"log", "-r", string(id), "--no-graph", "-T", logTemplate}, "jj log")
	if err != nil {
		return vcs.ChangeInfo{}, vcs.Errorf(vcs.KindInvalidChangeID, "get change", "%s: %v", id, err)
	}
	entries := parseLogEntries(out)
	if len(entries) == 0 {
		return vcs.ChangeInfo{}, vcs.Errorf(vcs.KindInvalidChangeID, "get change", "%s not found", id)
	}
	return entries[0], nil
}

func (r *Repo) ChangeExists(id vcs.ChangeID) (bool, error) {
	if id.IsZero() {
		return false, nil
	}
	_, err := r.GetChange(id)
	if err != nil {
		if vcs.IsKind(err, vcs.KindInvalidChangeID) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *Repo) ListChanges(filter vcs.ChangeFilter) ([]vcs.ChangeInfo, error) {
	revset := "::@"
	if filter.Branch != "" {
		exists, err := r.BranchExists(filter.Branch)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, vcs.Errorf(vcs.KindBranchNotFound, "list changes", "%s", filter.Branch)
		}
		revset = "::" + filter.Branch
	}
	args := []string{"log", "-r", revset, "--no-graph", "-T", logTemplate}
	out, err := r.cli.run(args, "jj log")
	if err != nil {
		return nil, err
	}
	entries := parseLogEntries(out)
	var result []vcs.ChangeInfo
	for _, e := range entries {
		if filter.Author != "" && !matchesAuthor(e, filter.Author) {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		result = append(result, e)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// AbandonChange removes the change from the visible graph. Descendants
// are rebased onto its parent automatically by the engine.
func (r *Repo) AbandonChange(id vcs.ChangeID) error {
	if id.IsZero() {
		return vcs.Errorf(vcs.KindInvalidChangeID, "jj abandon", "empty change id")
	}
	exists, err := r.ChangeExists(id)
	if err != nil {
		return err
	}
	if !exists {
		return vcs.Errorf(vcs.KindInvalidChangeID, "jj abandon", "%s not found", id)
	}
	_, err = r.cli.run([]string{"abandon", string(id)}, "jj abandon")
	return err
}

// Squash folds the given change (or the current one) into its parent.
func (r *Repo) Squash(id vcs.ChangeID, message string) error {
	args := []string{"squash"}
	if !id.IsZero() {
		args = append(args, "-r", string(id))
	}
	if message != "" {
		args = append(args, "-m", message)
	}
	_, err := r.cli.run(args, "jj squash")
	return err
}

// Rebase moves source and its descendants onto destination.
func (r *Repo) Rebase(source, destination vcs.ChangeID) error {
	if source.IsZero() || destination.IsZero() {
		return vcs.Errorf(vcs.KindInvalidChangeID, "jj rebase", "empty change id")
	}
	_, err := r.cli.run([]string{"rebase", "-s", string(source), "-d", string(destination)}, "jj rebase")
	return err
}

func (r *Repo) currentChange() (vcs.ChangeInfo, error) {
	out, err := r.cli.run([]string{"log", "-r", "@", "--no-graph", "-T", logTemplate}, "jj log")
	if err != nil {
		return vcs.ChangeInfo{}, err
	}
	entries := parseLogEntries(out)
	if len(entries) == 0 {
		return vcs.ChangeInfo{}, vcs.Errorf(vcs.KindBackend, "jj log", "no working copy change")
	}
	return entries[0], nil
}

func matchesAuthor(c vcs.ChangeInfo, author string) bool {
	needle := strings.ToLower(author)
	return strings.Contains(strings.ToLower(c.Author), needle) ||
		strings.Contains(strings.ToLower(c.Email), needle)
}
