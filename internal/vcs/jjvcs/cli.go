package jjvcs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"agentvcs/internal/vcs"
)

// runner shells out to the jj CLI. The change engine has no embeddable
// library; its command surface is the only interface.
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
	slog.Debug("jj exec", slog.String("op", op), slog.Any("args", args))
	cmd := exec.CommandContext(ctx, "jj", args...)
	cmd.Dir = r.root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", vcs.Errorf(vcs.KindBackend, op, "jj %s: %v", args[0], ctxErr)
		}
		return "", classify(op, strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}

// classify maps jj stderr output onto the closed error taxonomy.
func classify(op, stderr string, err error) *vcs.Error {
	lower := strings.ToLower(stderr)
	kind := vcs.KindBackend
	switch {
	case strings.Contains(lower, "authentication failed"),
		strings.Contains(lower, "could not read username"),
		strings.Contains(lower, "invalid username or password"):
		kind = vcs.KindAuthenticationFailed
	case strings.Contains(lower, "rejected"),
		strings.Contains(lower, "non-fast-forward"),
		strings.Contains(lower, "failed to push"):
		kind = vcs.KindPushRejected
	case strings.Contains(lower, "there is no jj repo"),
		strings.Contains(lower, "not a jj repo"):
		kind = vcs.KindRepositoryNotFound
	case strings.Contains(lower, "conflict"),
		strings.Contains(lower, "needs to be resolved"):
		kind = vcs.KindConflicts
	}
	if stderr != "" {
		return vcs.NewError(kind, op, fmt.Errorf("%v: %s", err, stderr))
	}
	return vcs.NewError(kind, op, err)
}

// Available reports whether the jj executable can be found.
func Available() bool {
	_, err := exec.LookPath("jj")
	return err == nil
}
