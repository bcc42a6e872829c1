// Package workspace isolates agent work in git worktrees. Each agent
// gets its own branch and worktree; finished work is committed there
// and later merged back into the main branch.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Manager runs git operations against one repository.
type Manager struct {
	repoPath     string
	worktreeBase string
	log          hclog.Logger
}

func NewManager(repoPath, worktreeBase string, log hclog.Logger) *Manager {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Manager{
		repoPath:     repoPath,
		worktreeBase: worktreeBase,
		log:          log.Named("workspace"),
	}
}

func (m *Manager) RepoPath() string { return m.repoPath }

func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	if dir == "" {
		dir = m.repoPath
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// WorktreePath is where a branch's worktree lives once created.
func (m *Manager) WorktreePath(branch string) string {
	return filepath.Join(m.worktreeBase, strings.ReplaceAll(branch, "/", "-"))
}

// CreateWorktree makes a worktree on a fresh branch and returns its path.
func (m *Manager) CreateWorktree(ctx context.Context, branch string) (string, error) {
	path := m.WorktreePath(branch)
	if err := os.MkdirAll(m.worktreeBase, 0755); err != nil {
		return "", fmt.Errorf("create worktree base: %w", err)
	}
	if _, err := m.git(ctx, "", "worktree", "add", path, "-b", branch); err != nil {
		return "", err
	}
	return path, nil
}

// RemoveWorktree removes a worktree; if git refuses, the directory is
// force-deleted and the worktree list pruned.
func (m *Manager) RemoveWorktree(ctx context.Context, path string) error {
	if _, err := m.git(ctx, "", "worktree", "remove", path, "--force"); err != nil {
		m.log.Warn("worktree remove failed, force cleaning", "path", path, "error", err)
		if _, statErr := os.Stat(path); statErr == nil {
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return rmErr
			}
		}
		_, err = m.git(ctx, "", "worktree", "prune")
		return err
	}
	return nil
}

// DeleteBranch deletes a branch; a missing branch is not an error.
func (m *Manager) DeleteBranch(ctx context.Context, branch string) {
	if _, err := m.git(ctx, "", "branch", "-D", branch); err != nil {
		m.log.Debug("branch delete skipped", "branch", branch, "error", err)
	}
}

// CommitAll stages and commits everything in a worktree. Returns the
// commit hash, or "" when there was nothing to commit.
func (m *Manager) CommitAll(ctx context.Context, worktree, message string) (string, error) {
	if _, err := m.git(ctx, worktree, "add", "."); err != nil {
		return "", err
	}

	// diff --cached --quiet exits non-zero exactly when something is staged.
	if _, err := m.git(ctx, worktree, "diff", "--cached", "--quiet"); err == nil {
		return "", nil
	}

	if _, err := m.git(ctx, worktree, "commit", "-m", message); err != nil {
		return "", err
	}
	return m.git(ctx, worktree, "rev-parse", "HEAD")
}

// MergeBranch merges branch into the checked-out branch of the main
// repo. On conflict the merge is aborted and false is returned.
func (m *Manager) MergeBranch(ctx context.Context, branch, message string) (bool, error) {
	if message == "" {
		message = "Merge " + branch
	}
	if _, err := m.git(ctx, "", "merge", branch, "-m", message); err != nil {
		m.log.Warn("merge conflict, aborting", "branch", branch, "error", err)
		if _, abortErr := m.git(ctx, "", "merge", "--abort"); abortErr != nil {
			return false, fmt.Errorf("merge abort after conflict: %w", abortErr)
		}
		return false, nil
	}
	return true, nil
}

// Diff returns the diff between main and a branch; an unknown branch
// yields an empty diff.
func (m *Manager) Diff(ctx context.Context, branch string) string {
	out, err := m.git(ctx, "", "diff", "main", branch)
	if err != nil {
		return ""
	}
	return out
}

// Worktree is one entry of `git worktree list`.
type Worktree struct {
	Path   string
	Head   string
	Branch string
	Bare   bool
}

// ListWorktrees lists the repo's active worktrees.
func (m *Manager) ListWorktrees(ctx context.Context) ([]Worktree, error) {
	out, err := m.git(ctx, "", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var worktrees []Worktree
	var current *Worktree
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			if current != nil {
				worktrees = append(worktrees, *current)
			}
			current = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD ") && current != nil:
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch ") && current != nil:
			current.Branch = strings.TrimPrefix(line, "branch ")
		case line == "bare" && current != nil:
			current.Bare = true
		}
	}
	if current != nil {
		worktrees = append(worktrees, *current)
	}
	return worktrees, nil
}

// Directories excluded from file trees.
var treeSkip = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"dist":         true,
	".next":        true,
}

// FileTree renders a directory tree down to maxDepth levels, used to
// give agents a picture of the repo layout.
func (m *Manager) FileTree(root string, maxDepth int) string {
	if root == "" {
		root = m.repoPath
	}
	var lines []string
	walkTree(root, "", maxDepth, 0, &lines)
	return strings.Join(lines, "\n")
}

func walkTree(path, prefix string, maxDepth, depth int, out *[]string) {
	if depth >= maxDepth {
		return
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return
	}

	var names []string
	for _, e := range entries {
		if !treeSkip[e.Name()] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for i, name := range names {
		full := filepath.Join(path, name)
		connector := "├── "
		extension := "│   "
		if i == len(names)-1 {
			connector = "└── "
			extension = "    "
		}
		*out = append(*out, prefix+connector+name)
		if info, err := os.Stat(full); err == nil && info.IsDir() {
			walkTree(full, prefix+extension, maxDepth, depth+1, out)
		}
	}
}

// ReadFiles reads files from a worktree and concatenates them with
// per-file headers, for inclusion in agent prompts.
func (m *Manager) ReadFiles(worktree string, paths []string) string {
	var parts []string
	for _, p := range paths {
		full := filepath.Join(worktree, p)
		data, err := os.ReadFile(full)
		if err != nil {
			parts = append(parts, fmt.Sprintf("--- %s --- [FILE NOT FOUND]", p))
			continue
		}
		parts = append(parts, fmt.Sprintf("--- %s ---\n%s", p, data))
	}
	return strings.Join(parts, "\n\n")
}

// WriteFile writes a file inside a worktree, creating parent dirs.
func (m *Manager) WriteFile(worktree, path, content string) error {
	full := filepath.Join(worktree, path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return err
	}
	return os.WriteFile(full, []byte(content), 0644)
}

// DeleteFile removes a file from a worktree; missing files are ignored.
func (m *Manager) DeleteFile(worktree, path string) error {
	err := os.Remove(filepath.Join(worktree, path))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
