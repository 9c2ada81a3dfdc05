package jjvcs

import (
	"context"

	"agentvcs/internal/vcs"
)

// The four git-interop primitives. jj keeps its own change graph next
// to the backing git ref store; import and export reconcile the two.
// Callers of the vcs contract never see these as separate steps.

// GitFetch pulls refs from the backing remote into the engine's view.
func (r *Repo) GitFetch(ctx context.Context, remote string) error {
	args := []string{"git", "fetch"}
	if remote != "" {
		args = append(args, "--remote", remote)
	}
	_, err := r.cli.runContext(ctx, args, "jj git fetch")
	return err
}

// GitImport absorbs externally created git refs into the change graph.
func (r *Repo) GitImport(ctx context.Context) error {
	_, err := r.cli.runContext(ctx, []string{"git", "import"}, "jj git import")
	return err
}

// GitExport projects the change graph back onto git refs. Required
// before anything becomes visible to git-speaking tooling.
func (r *Repo) GitExport(ctx context.Context) error {
	_, err := r.cli.runContext(ctx, []string{"git", "export"}, "jj git export")
	return err
}

// GitPush pushes exported refs to the remote.
func (r *Repo) GitPush(ctx context.Context, remote, branch string, force bool) error {
	args := []string{"git", "push"}
	if remote != "" {
		args = append(args, "--remote", remote)
	}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	if force {
		args = append(args, "--force")
	}
	_, err := r.cli.runContext(ctx, args, "jj git push")
	return err
}

// Fetch pulls from the remote and absorbs the result into the change
// graph in one step.
func (r *Repo) Fetch(ctx context.Context, opts vcs.FetchOptions) error {
	if err := r.GitFetch(ctx, opts.Remote); err != nil {
		return err
	}
	return r.GitImport(ctx)
}

// Push exports the change graph and pushes the given branch.
func (r *Repo) Push(ctx context.Context, opts vcs.PushOptions) error {
	if err := r.GitExport(ctx); err != nil {
		return err
	}
	return r.GitPush(ctx, opts.Remote, opts.Branch, opts.Force)
}

// Sync reconciles both directions: import, fetch, import again for
// refs that only resolve after the fetch, then export.
func (r *Repo) Sync(ctx context.Context, remote string) error {
	if err := r.GitImport(ctx); err != nil {
		return err
	}
	if err := r.GitFetch(ctx, remote); err != nil {
		return err
	}
	if err := r.GitImport(ctx); err != nil {
		return err
	}
	return r.GitExport(ctx)
}

// PrepareForReview assigns the current change to branch, exports, and
// pushes it, making the change visible to git-based review tooling.
func (r *Repo) PrepareForReview(ctx context.Context, branch, remote string) error {
	current, err := r.currentChange()
	if err != nil {
		return err
	}
	exists, err := r.BranchExists(branch)
	if err != nil {
		return err
	}
	if exists {
		err = r.SetBranch(branch, current.ID)
	} else {
		err = r.CreateBranch(branch, current.ID)
	}
	if err != nil {
		return err
	}
	if err := r.GitExport(ctx); err != nil {
		return err
	}
	return r.GitPush(ctx, remote, branch, false)
}

func (r *Repo) ListRemotes() ([]vcs.Remote, error) {
	out, err := r.cli.run([]string{"git", "remote", "list"}, "jj git remote list")
	if err != nil {
		return nil, err
	}
	return parseRemoteList(out), nil
}

func (r *Repo) RemoteURL(name string) (string, error) {
	remotes, err := r.ListRemotes()
	if err != nil {
		return "", err
	}
	for _, remote := range remotes {
		if remote.Name == name {
			return remote.URL, nil
		}
	}
	return "", vcs.Errorf(vcs.KindBackend, "remote url", "remote %s not configured", name)
}

func (r *Repo) SetRemoteURL(name, url string) error {
	remotes, err := r.ListRemotes()
	if err != nil {
		return err
	}
	for _, remote := range remotes {
		if remote.Name == name {
			_, err := r.cli.run([]string{"git", "remote", "set-url", name, url}, "jj git remote set-url")
			return err
		}
	}
	_, err = r.cli.run([]string{"git", "remote", "add", name, url}, "jj git remote add")
	return err
}

// RemoteBranchExists checks the engine's view of remote-tracking
// branches. A fetch may be needed first for a fresh answer.
func (r *Repo) RemoteBranchExists(ctx context.Context, remote, branch string) (bool, error) {
	if remote == "" {
		remote = vcs.DefaultRemote
	}
	out, err := r.cli.runContext(ctx, []string{"branch", "list", "--all"}, "jj branch list")
	if err != nil {
		return false, err
	}
	want := branch + "@" + remote
	for _, b := range parseBranchList(out) {
		if b.Name == want {
			return true, nil
		}
	}
	return false, nil
}
