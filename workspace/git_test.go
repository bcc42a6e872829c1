package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func initRepo(t *testing.T) *Manager {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	repo := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}

	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	if err := os.WriteFile(filepath.Join(repo, "README.md"), []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("commit", "-m", "initial")

	return NewManager(repo, filepath.Join(t.TempDir(), "worktrees"), nil)
}

func TestWorktreeLifecycle(t *testing.T) {
	m := initRepo(t)
	ctx := context.Background()

	path, err := m.CreateWorktree(ctx, "agent/subtask-1")
	if err != nil {
		t.Fatalf("create worktree: %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "README.md")); err != nil {
		t.Fatalf("worktree missing repo contents: %v", err)
	}

	worktrees, err := m.ListWorktrees(ctx)
	if err != nil {
		t.Fatalf("list worktrees: %v", err)
	}
	if len(worktrees) != 2 {
		t.Errorf("expected main repo + 1 worktree, got %d", len(worktrees))
	}

	if err := m.RemoveWorktree(ctx, path); err != nil {
		t.Fatalf("remove worktree: %v", err)
	}
	m.DeleteBranch(ctx, "agent/subtask-1")

	worktrees, _ = m.ListWorktrees(ctx)
	if len(worktrees) != 1 {
		t.Errorf("expected only main repo after removal, got %d", len(worktrees))
	}
}

func TestCommitAllAndMerge(t *testing.T) {
	m := initRepo(t)
	ctx := context.Background()

	path, err := m.CreateWorktree(ctx, "agent/feature")
	if err != nil {
		t.Fatalf("create worktree: %v", err)
	}

	// Nothing staged yet
	hash, err := m.CommitAll(ctx, path, "empty commit attempt")
	if err != nil {
		t.Fatalf("commit all: %v", err)
	}
	if hash != "" {
		t.Errorf("expected empty hash with no changes, got %q", hash)
	}

	if err := m.WriteFile(path, "src/feature.go", "package feature\n"); err != nil {
		t.Fatalf("write file: %v", err)
	}
	hash, err = m.CommitAll(ctx, path, "add feature")
	if err != nil {
		t.Fatalf("commit all: %v", err)
	}
	if hash == "" {
		t.Fatal("expected commit hash")
	}

	ok, err := m.MergeBranch(ctx, "agent/feature", "")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !ok {
		t.Fatal("expected clean merge")
	}
	if _, err := os.Stat(filepath.Join(m.RepoPath(), "src", "feature.go")); err != nil {
		t.Errorf("merged file missing in main repo: %v", err)
	}
}

func TestMergeConflictAborts(t *testing.T) {
	m := initRepo(t)
	ctx := context.Background()

	path, err := m.CreateWorktree(ctx, "agent/conflict")
	if err != nil {
		t.Fatalf("create worktree: %v", err)
	}

	// Conflicting edits to the same file on both branches.
	if err := m.WriteFile(path, "README.md", "worktree version\n"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CommitAll(ctx, path, "worktree edit"); err != nil {
		t.Fatalf("commit worktree: %v", err)
	}
	if err := os.WriteFile(filepath.Join(m.RepoPath(), "README.md"), []byte("main version\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CommitAll(ctx, m.RepoPath(), "main edit"); err != nil {
		t.Fatalf("commit main: %v", err)
	}

	ok, err := m.MergeBranch(ctx, "agent/conflict", "")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if ok {
		t.Fatal("expected conflicted merge to report false")
	}

	// Aborted merge leaves main intact.
	data, _ := os.ReadFile(filepath.Join(m.RepoPath(), "README.md"))
	if string(data) != "main version\n" {
		t.Errorf("expected main version preserved, got %q", data)
	}
}

func TestFileTreeAndReadFiles(t *testing.T) {
	m := initRepo(t)

	if err := m.WriteFile(m.RepoPath(), "src/app/main.go", "package main\n"); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteFile(m.RepoPath(), "node_modules/pkg/index.js", "x"); err != nil {
		t.Fatal(err)
	}

	tree := m.FileTree("", 3)
	if !strings.Contains(tree, "README.md") || !strings.Contains(tree, "main.go") {
		t.Errorf("expected tree to include files, got:\n%s", tree)
	}
	if strings.Contains(tree, "node_modules") {
		t.Errorf("expected node_modules to be skipped, got:\n%s", tree)
	}

	contents := m.ReadFiles(m.RepoPath(), []string{"README.md", "missing.txt"})
	if !strings.Contains(contents, "--- README.md ---") || !strings.Contains(contents, "hello") {
		t.Errorf("expected README contents, got:\n%s", contents)
	}
	if !strings.Contains(contents, "[FILE NOT FOUND]") {
		t.Errorf("expected missing-file marker, got:\n%s", contents)
	}
}
