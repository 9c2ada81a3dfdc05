package jjvcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"agentvcs/internal/vcs"
)

// createTestRepo initializes a colocated jj repository in a temp dir.
// Skips when jj is missing or too new for the branch command surface.
func createTestRepo(t *testing.T) *Repo {
	t.Helper()
	if !Available() {
		t.Skip("jj not installed")
	}
	t.Setenv("JJ_USER", "Test")
	t.Setenv("JJ_EMAIL", "test@example.com")
	repo, err := Init(t.TempDir())
	if err != nil {
		t.Skipf("jj git init: %v", err)
	}
	if _, err := repo.cli.run([]string{"branch", "list"}, "jj branch list"); err != nil {
		t.Skipf("jj branch commands unavailable: %v", err)
	}
	return repo
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestHeadAndCreateChange(t *testing.T) {
	repo := createTestRepo(t)

	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head.ID.IsZero() {
		t.Fatalf("fresh repo has no working copy change")
	}

	writeFile(t, repo.Root(), "x.txt", "hello\n")
	id, err := repo.CreateChange("start work", vcs.CreateOptions{})
	if err != nil {
		t.Fatalf("CreateChange: %v", err)
	}
	if id.IsZero() || id == head.ID {
		t.Fatalf("CreateChange returned %q", id)
	}

	info, err := repo.GetChange(id)
	if err != nil {
		t.Fatalf("GetChange: %v", err)
	}
	if info.Summary() != "start work" {
		t.Fatalf("summary = %q", info.Summary())
	}
	if exists, err := repo.ChangeExists(id); err != nil || !exists {
		t.Fatalf("ChangeExists = %v, %v", exists, err)
	}
	if exists, err := repo.ChangeExists("zzzzzzzzzzzzzzzz"); err != nil || exists {
		t.Fatalf("bogus ChangeExists = %v, %v", exists, err)
	}
}

func TestAmendChangeKeepsID(t *testing.T) {
	repo := createTestRepo(t)
	id, err := repo.CreateChange("draft", vcs.CreateOptions{})
	if err != nil {
		t.Fatalf("CreateChange: %v", err)
	}
	if err := repo.AmendChange("rewritten message"); err != nil {
		t.Fatalf("AmendChange: %v", err)
	}
	info, err := repo.GetChange(id)
	if err != nil {
		t.Fatalf("GetChange after amend: %v", err)
	}
	if info.Summary() != "rewritten message" {
		t.Fatalf("summary = %q", info.Summary())
	}
}

func TestStatusReportsWorkingCopyEdits(t *testing.T) {
	repo := createTestRepo(t)
	writeFile(t, repo.Root(), "x.txt", "one\n")
	if _, err := repo.CreateChange("base", vcs.CreateOptions{}); err != nil {
		t.Fatalf("CreateChange: %v", err)
	}
	writeFile(t, repo.Root(), "x.txt", "two\n")
	writeFile(t, repo.Root(), "y.txt", "new\n")

	status, err := repo.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(status.Modified) != 1 || status.Modified[0] != "x.txt" {
		t.Fatalf("modified = %+v", status.Modified)
	}
	if len(status.Added) != 1 || status.Added[0] != "y.txt" {
		t.Fatalf("added = %+v", status.Added)
	}
}

func TestDiffChangesReportsModifiedFile(t *testing.T) {
	repo := createTestRepo(t)
	writeFile(t, repo.Root(), "x.txt", "one\n")

	base, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	work, err := repo.CreateChange("edit x", vcs.CreateOptions{})
	if err != nil {
		t.Fatalf("CreateChange: %v", err)
	}
	writeFile(t, repo.Root(), "x.txt", "two\n")
	if _, err := repo.CreateChange("next", vcs.CreateOptions{}); err != nil {
		t.Fatalf("CreateChange: %v", err)
	}

	entries, err := repo.DiffChanges(base.ID, work)
	if err != nil {
		t.Fatalf("DiffChanges: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != vcs.Modified || entries[0].Path != "x.txt" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestBranchLifecycle(t *testing.T) {
	repo := createTestRepo(t)
	base, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if _, err := repo.CreateChange("ahead", vcs.CreateOptions{}); err != nil {
		t.Fatalf("CreateChange: %v", err)
	}

	if err := repo.CreateBranch("feature", base.ID); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	branches, err := repo.ListBranches()
	if err != nil {
		t.Fatalf("ListBranches: %v", err)
	}
	var found *vcs.BranchInfo
	for i := range branches {
		if branches[i].Name == "feature" {
			found = &branches[i]
		}
	}
	if found == nil {
		t.Fatalf("feature missing from %+v", branches)
	}
	if found.IsCurrent || found.IsRemote {
		t.Fatalf("feature flags = %+v", found)
	}
	if found.Target != base.ID {
		t.Fatalf("feature target = %s, want %s", found.Target, base.ID)
	}

	if err := repo.RenameBranch("feature", "renamed"); err != nil {
		t.Fatalf("RenameBranch: %v", err)
	}
	if exists, _ := repo.BranchExists("feature"); exists {
		t.Fatalf("feature should be gone after rename")
	}
	if err := repo.DeleteBranch("renamed"); err != nil {
		t.Fatalf("DeleteBranch: %v", err)
	}
	if err := repo.DeleteBranch("renamed"); !vcs.IsKind(err, vcs.KindBranchNotFound) {
		t.Fatalf("second delete = %v, want KindBranchNotFound", err)
	}
}

func TestSwitchToAndAbandon(t *testing.T) {
	repo := createTestRepo(t)
	first, err := repo.CreateChange("first", vcs.CreateOptions{})
	if err != nil {
		t.Fatalf("CreateChange: %v", err)
	}
	second, err := repo.CreateChange("second", vcs.CreateOptions{})
	if err != nil {
		t.Fatalf("CreateChange: %v", err)
	}

	if err := repo.SwitchTo(vcs.ChangeTarget(first)); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head.ID != first {
		t.Fatalf("head = %s, want %s", head.ID, first)
	}

	if err := repo.AbandonChange(second); err != nil {
		t.Fatalf("AbandonChange: %v", err)
	}
	if exists, _ := repo.ChangeExists(second); exists {
		t.Fatalf("abandoned change still visible")
	}
}

func TestConflictLifecycle(t *testing.T) {
	repo := createTestRepo(t)
	writeFile(t, repo.Root(), "x.txt", "base\n")
	base, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}

	sideOne, err := repo.CreateChange("side one", vcs.CreateOptions{})
	if err != nil {
		t.Fatalf("CreateChange side one: %v", err)
	}
	writeFile(t, repo.Root(), "x.txt", "one\n")
	sideTwo, err := repo.CreateChange("side two", vcs.CreateOptions{Base: base.ID})
	if err != nil {
		t.Fatalf("CreateChange side two: %v", err)
	}
	writeFile(t, repo.Root(), "x.txt", "two\n")

	if _, err := repo.cli.run([]string{"new", string(sideOne), string(sideTwo), "-m", "join sides"}, "jj new"); err != nil {
		t.Fatalf("merge changes: %v", err)
	}

	has, err := repo.HasConflicts()
	if err != nil {
		t.Fatalf("HasConflicts: %v", err)
	}
	if !has {
		t.Fatalf("merge of diverging edits should conflict")
	}
	conflicts, err := repo.ListConflicts()
	if err != nil {
		t.Fatalf("ListConflicts: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].Path != "x.txt" {
		t.Fatalf("conflicts = %+v", conflicts)
	}
	c := conflicts[0]
	if c.Ours.IsZero() || c.Theirs != sideTwo {
		t.Fatalf("conflict sides = %+v", c)
	}
	if c.Base == nil || *c.Base != base.ID {
		t.Fatalf("conflict base = %v, want %s", c.Base, base.ID)
	}

	if err := repo.AbortOperation(); err != nil {
		t.Fatalf("AbortOperation: %v", err)
	}
	if has, _ := repo.HasConflicts(); has {
		t.Fatalf("conflicts should be gone after abort")
	}
	// Nothing in progress now, so a second abort is a no-op.
	if err := repo.AbortOperation(); err != nil {
		t.Fatalf("second AbortOperation: %v", err)
	}
}

func TestRemoteWorkflow(t *testing.T) {
	repo := createTestRepo(t)
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	bare := t.TempDir()
	if out, err := exec.Command("git", "init", "--bare", bare).CombinedOutput(); err != nil {
		t.Fatalf("git init --bare: %v: %s", err, out)
	}

	if err := repo.SetRemoteURL("origin", bare); err != nil {
		t.Fatalf("SetRemoteURL: %v", err)
	}
	remotes, err := repo.ListRemotes()
	if err != nil {
		t.Fatalf("ListRemotes: %v", err)
	}
	if len(remotes) != 1 || remotes[0].Name != "origin" {
		t.Fatalf("remotes = %+v", remotes)
	}
	if url, err := repo.RemoteURL("origin"); err != nil || url != bare {
		t.Fatalf("RemoteURL = %q, %v", url, err)
	}

	// Pushing refuses undescribed commits, so describe the working copy
	// change that holds the new file.
	writeFile(t, repo.Root(), "x.txt", "content\n")
	if err := repo.Describe("publish me"); err != nil {
		t.Fatalf("Describe: %v", err)
	}

	ctx := context.Background()
	if err := repo.PrepareForReview(ctx, "review", "origin"); err != nil {
		t.Fatalf("PrepareForReview: %v", err)
	}
	if err := exec.Command("git", "-C", bare, "rev-parse", "--verify", "refs/heads/review").Run(); err != nil {
		t.Fatalf("review branch not pushed: %v", err)
	}
	exists, err := repo.RemoteBranchExists(ctx, "origin", "review")
	if err != nil {
		t.Fatalf("RemoteBranchExists: %v", err)
	}
	if !exists {
		t.Fatalf("review@origin should exist after push")
	}

	if err := repo.Sync(ctx, "origin"); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}
