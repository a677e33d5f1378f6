package targetvcs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/NavicoOS/ac2git/internal/xerrors"
)

// GitStore implements Store by shelling the git(1) binary. Each
// CommitTree call stages workdir's contents into a scratch index file
// rather than the repository's own index, so the adapter never needs
// a checked-out working directory of its own (grounded in the
// method-per-verb layering of the teacher's badger_store.go).
type GitStore struct {
	repoPath string
	gitBin   string
	depot    string // used only for error context
}

func NewGitStore(repoPath, gitBin string) *GitStore {
	if gitBin == "" {
		gitBin = "git"
	}
	return &GitStore{repoPath: repoPath, gitBin: gitBin}
}

func (g *GitStore) run(ctx context.Context, env []string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, g.gitBin, args...)
	cmd.Dir = g.repoPath
	cmd.Env = append(os.Environ(), env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, xerrors.Target(strings.Join(args, " "), g.repoPath, fmt.Errorf("%w: %s", err, stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (g *GitStore) CommitTree(ctx context.Context, workdir, message string, parents []string, sig Signature) (string, error) {
	idxFile, err := os.CreateTemp("", "ac2git-index-*")
	if err != nil {
		return "", fmt.Errorf("creating scratch index: %w", err)
	}
	idxPath := idxFile.Name()
	idxFile.Close()
	// git refuses a zero-length index file; only the unique path is
	// needed, git creates the index itself on the first add.
	os.Remove(idxPath)
	defer os.Remove(idxPath)

	env := []string{
		"GIT_INDEX_FILE=" + idxPath,
		"GIT_WORK_TREE=" + workdir,
		"GIT_AUTHOR_NAME=" + sig.Name,
		"GIT_AUTHOR_EMAIL=" + sig.Email,
		"GIT_AUTHOR_DATE=" + sig.When.Format("2006-01-02T15:04:05-0700"),
		"GIT_COMMITTER_NAME=" + sig.Name,
		"GIT_COMMITTER_EMAIL=" + sig.Email,
		"GIT_COMMITTER_DATE=" + sig.When.Format("2006-01-02T15:04:05-0700"),
	}

	if _, err := g.run(ctx, env, "add", "-A", "."); err != nil {
		return "", err
	}
	treeOut, err := g.run(ctx, env, "write-tree")
	if err != nil {
		return "", err
	}
	tree := strings.TrimSpace(string(treeOut))

	if len(parents) == 1 {
		if noop, err := g.isNoopCommit(ctx, parents[0], tree, message); err != nil {
			return "", err
		} else if noop {
			return parents[0], nil
		}
	}

	args := []string{"commit-tree", tree, "-m", message}
	for _, p := range parents {
		args = append(args, "-p", p)
	}
	commitOut, err := g.run(ctx, env, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(commitOut)), nil
}

// isNoopCommit reports whether parent already has tree and message,
// so CommitTree's caller (the retrieval pipeline's per-transaction
// chains) never mints a duplicate commit when re-run over an already
// converted range.
func (g *GitStore) isNoopCommit(ctx context.Context, parent, tree, message string) (bool, error) {
	parentTree, err := g.Tree(ctx, parent)
	if err != nil {
		return false, err
	}
	if parentTree != tree {
		return false, nil
	}
	parentMessage, err := g.CommitMessage(ctx, parent)
	if err != nil {
		return false, err
	}
	return parentMessage == message, nil
}

func (g *GitStore) CommitFromTree(ctx context.Context, tree, message string, parents []string, sig Signature) (string, error) {
	env := []string{
		"GIT_AUTHOR_NAME=" + sig.Name,
		"GIT_AUTHOR_EMAIL=" + sig.Email,
		"GIT_AUTHOR_DATE=" + sig.When.Format("2006-01-02T15:04:05-0700"),
		"GIT_COMMITTER_NAME=" + sig.Name,
		"GIT_COMMITTER_EMAIL=" + sig.Email,
		"GIT_COMMITTER_DATE=" + sig.When.Format("2006-01-02T15:04:05-0700"),
	}
	args := []string{"commit-tree", tree, "-m", message}
	for _, p := range parents {
		args = append(args, "-p", p)
	}
	out, err := g.run(ctx, env, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (g *GitStore) UpdateRef(ctx context.Context, ref, newCommit, expectedOld string) error {
	old := expectedOld
	if old == "" {
		old = ZeroOID
	}
	_, err := g.run(ctx, nil, "update-ref", ref, newCommit, old)
	return err
}

func (g *GitStore) ReadRef(ctx context.Context, ref string) (string, error) {
	cmd := exec.CommandContext(ctx, g.gitBin, "show-ref", "--verify", "--hash", ref)
	cmd.Dir = g.repoPath
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return strings.TrimSpace(stdout.String()), nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return "", nil
	}
	return "", xerrors.Target("show-ref", g.repoPath, fmt.Errorf("%w: %s", err, stderr.String()))
}

func (g *GitStore) Show(ctx context.Context, ref, path string) ([]byte, error) {
	return g.run(ctx, nil, "show", fmt.Sprintf("%s:%s", ref, path))
}

func (g *GitStore) DiffTree(ctx context.Context, a, b string) (bool, error) {
	out, err := g.run(ctx, nil, "diff-tree", "--no-commit-id", "--name-only", "-r", a, b)
	if err != nil {
		return false, err
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}

func (g *GitStore) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	cmd := exec.CommandContext(ctx, g.gitBin, "merge-base", "--is-ancestor", ancestor, descendant)
	cmd.Dir = g.repoPath
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, xerrors.Target("is-ancestor", g.repoPath, err)
}

func (g *GitStore) HashObject(ctx context.Context, data []byte) (string, error) {
	cmd := exec.CommandContext(ctx, g.gitBin, "hash-object", "-w", "--stdin")
	cmd.Dir = g.repoPath
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", xerrors.Target("hash-object", g.repoPath, fmt.Errorf("%w: %s", err, stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (g *GitStore) CommitMessage(ctx context.Context, commit string) (string, error) {
	out, err := g.run(ctx, nil, "log", "-1", "--format=%B", commit)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(out), "\n"), nil
}

func (g *GitStore) Commits(ctx context.Context, ref string) ([]string, error) {
	cmd := exec.CommandContext(ctx, g.gitBin, "rev-list", "--reverse", ref)
	cmd.Dir = g.repoPath
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return nil, nil
		}
		return nil, xerrors.Target("rev-list", g.repoPath, fmt.Errorf("%w: %s", err, stderr.String()))
	}
	return splitLines(stdout.Bytes()), nil
}

func (g *GitStore) Parents(ctx context.Context, commit string) ([]string, error) {
	out, err := g.run(ctx, nil, "log", "-1", "--format=%P", commit)
	if err != nil {
		return nil, err
	}
	line := strings.TrimSpace(string(out))
	if line == "" {
		return nil, nil
	}
	return strings.Fields(line), nil
}

func (g *GitStore) Tree(ctx context.Context, commit string) (string, error) {
	out, err := g.run(ctx, nil, "log", "-1", "--format=%T", commit)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func splitLines(b []byte) []string {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
