package gitvcs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"agentvcs/internal/vcs"
)

// runner shells out to the git CLI for every operation that mutates the
// working directory or index. Read-heavy queries go through go-git
// instead (see repo.go).
type runner struct {
	root string
}

func (r runner) run(args []string, op string) (string, error) {
	return r.runContext(context.Background(), args, op)
}

func (r runner) runContext(ctx context.Context, args []string, op string) (string, error) {
	if r.root == "" {
		return "", vcs.Errorf(vcs.KindBackend, op, "repository root not set")
	}
	cmdArgs := append([]string{"-C", r.root}, args...)
	slog.Debug("git exec", slog.String("op", op), slog.Any("args", args))
	cmd := exec.CommandContext(ctx, "git", cmdArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", vcs.Errorf(vcs.KindBackend, op, "git %s: %v", args[0], ctxErr)
		}
		return "", classify(op, strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}

// classify maps git stderr output onto the closed error taxonomy.
// Call sites that know a more specific kind from context override this.
func classify(op, stderr string, err error) *vcs.Error {
	lower := strings.ToLower(stderr)
	kind := vcs.KindBackend
	switch {
	case strings.Contains(lower, "authentication failed"),
		strings.Contains(lower, "could not read username"),
		strings.Contains(lower, "invalid username or password"),
		strings.Contains(lower, "permission denied (publickey"):
		kind = vcs.KindAuthenticationFailed
	case strings.Contains(lower, "non-fast-forward"),
		strings.Contains(lower, "[rejected]"),
		strings.Contains(lower, "failed to push"):
		kind = vcs.KindPushRejected
	case strings.Contains(lower, "not a git repository"):
		kind = vcs.KindRepositoryNotFound
	case strings.Contains(lower, "would be overwritten by"),
		strings.Contains(lower, "commit your changes or stash them"):
		kind = vcs.KindDirtyWorkingCopy
	case strings.Contains(lower, "fix conflicts"),
		strings.Contains(lower, "needs merge"),
		strings.Contains(lower, "unmerged files"):
		kind = vcs.KindOperationInProgress
	}
	if stderr != "" {
		return vcs.NewError(kind, op, fmt.Errorf("%v: %s", err, stderr))
	}
	return vcs.NewError(kind, op, err)
}
