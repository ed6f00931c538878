package patch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Apply writes the patch to a file and applies it to the working tree at
// dir with git apply, retrying with a three-way merge. It returns the
// saved patch path; on failure the error carries the raw tool output and
// the path so the apply can be retried manually.
func Apply(ctx context.Context, dir string, diff []byte) (string, error) {
	f, err := os.CreateTemp("", "outpost-*.patch")
	if err != nil {
		return "", fmt.Errorf("save patch: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(diff); err != nil {
		f.Close()
		return path, fmt.Errorf("save patch: %w", err)
	}
	if err := f.Close(); err != nil {
		return path, fmt.Errorf("save patch: %w", err)
	}

	out, err := gitApply(ctx, dir, path)
	if err == nil {
		return path, nil
	}

	// Retry with a three-way merge before giving up.
	if _, err3 := gitApply(ctx, dir, path, "--3way"); err3 == nil {
		return path, nil
	}

	return path, fmt.Errorf("git apply failed: %s (patch saved at %s)", strings.TrimSpace(out), path)
}

func gitApply(ctx context.Context, dir, patchPath string, extra ...string) (string, error) {
	args := append([]string{"apply"}, extra...)
	args = append(args, patchPath)
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}
