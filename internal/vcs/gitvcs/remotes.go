package gitvcs

import (
	"context"
	"sort"
	"strings"

	gitlib "github.com/go-git/go-git/v5"

	"agentvcs/internal/vcs"
)

func (r *Repo) ListRemotes() ([]vcs.Remote, error) {
	remotes, err := r.git.Remotes()
	if err != nil {
		return nil, vcs.NewError(vcs.KindBackend, "list remotes", err)
	}
	out := make([]vcs.Remote, 0, len(remotes))
	for _, remote := range remotes {
		cfg := remote.Config()
		url := ""
		if len(cfg.URLs) > 0 {
			url = cfg.URLs[0]
		}
		out = append(out, vcs.Remote{Name: cfg.Name, URL: url})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Repo) RemoteURL(name string) (string, error) {
	remote, err := r.git.Remote(name)
	if err != nil {
		if err == gitlib.ErrRemoteNotFound {
			return "", vcs.Errorf(vcs.KindBackend, "remote url", "remote %s not configured", name)
		}
		return "", vcs.NewError(vcs.KindBackend, "remote url", err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", nil
	}
	return urls[0], nil
}

func (r *Repo) SetRemoteURL(name, url string) error {
	if _, err := r.git.Remote(name); err == gitlib.ErrRemoteNotFound {
		_, err := r.cli.run([]string{"remote", "add", name, url}, "git remote add")
		return err
	}
	_, err := r.cli.run([]string{"remote", "set-url", name, url}, "git remote set-url")
	return err
}

func (r *Repo) Fetch(ctx context.Context, opts vcs.FetchOptions) error {
	remote := opts.Remote
	if remote == "" {
		remote = vcs.DefaultRemote
	}
	args := []string{"fetch", remote}
	if opts.Prune {
		args = append(args, "--prune")
	}
	_, err := r.cli.runContext(ctx, args, "git fetch")
	return err
}

func (r *Repo) Push(ctx context.Context, opts vcs.PushOptions) error {
	remote := opts.Remote
	if remote == "" {
		remote = vcs.DefaultRemote
	}
	branch := opts.Branch
	if branch == "" {
		current, err := r.CurrentBranch()
		if err != nil {
			return err
		}
		if current == "" {
			return vcs.Errorf(vcs.KindBackend, "git push", "no branch to push from a detached head")
		}
		branch = current
	}
	args := []string{"push", remote, branch}
	if opts.Force {
		args = append(args, "--force-with-lease")
	}
	_, err := r.cli.runContext(ctx, args, "git push")
	return err
}

func (r *Repo) RemoteBranchExists(ctx context.Context, remote, branch string) (bool, error) {
	if remote == "" {
		remote = vcs.DefaultRemote
	}
	out, err := r.cli.runContext(ctx,
		[]string{"ls-remote", "--heads", remote, branch}, "git ls-remote")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}
