package runner

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// gitEnv pins author identity so baseline commits work in a bare
// container without global git config.
var gitEnv = []string{
	"GIT_AUTHOR_NAME=outpost",
	"GIT_AUTHOR_EMAIL=outpost@localhost",
	"GIT_COMMITTER_NAME=outpost",
	"GIT_COMMITTER_EMAIL=outpost@localhost",
}

func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(cmd.Environ(), gitEnv...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// clone checks out a repository into dir. A branch pin is optional.
func clone(ctx context.Context, url, branch, dir string) error {
	args := []string{"clone", "--depth", "1"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, url, dir)

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(cmd.Environ(), gitEnv...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// baseline ensures dir is a git repository and commits the current tree
// state (possibly empty) so later modifications are diffable. It
// returns the baseline commit hash.
func baseline(ctx context.Context, dir string) (string, error) {
	if _, err := git(ctx, dir, "rev-parse", "--git-dir"); err != nil {
		if _, err := git(ctx, dir, "init"); err != nil {
			return "", err
		}
	}
	if _, err := git(ctx, dir, "add", "-A"); err != nil {
		return "", err
	}
	if _, err := git(ctx, dir, "commit", "--allow-empty", "--no-verify", "-m", "outpost baseline"); err != nil {
		return "", err
	}
	hash, err := git(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(hash), nil
}

// diffSince stages everything and returns the unified diff of the
// working tree against the baseline commit.
func diffSince(ctx context.Context, dir, baselineHash string) (string, error) {
	if _, err := git(ctx, dir, "add", "-A"); err != nil {
		return "", err
	}
	diff, err := git(ctx, dir, "diff", "--cached", baselineHash)
	if err != nil {
		return "", err
	}
	return diff, nil
}
