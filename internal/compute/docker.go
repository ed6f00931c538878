package compute

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// DockerRuntime starts units as detached docker containers. The runner
// image is expected to have the outpost binary as its entrypoint.
type DockerRuntime struct {
	// Binary overrides the docker CLI path (for tests).
	Binary string
}

func (d *DockerRuntime) docker() string {
	if d.Binary != "" {
		return d.Binary
	}
	return "docker"
}

func (d *DockerRuntime) Start(ctx context.Context, unit Unit) error {
	args := []string{
		"run", "-d", "--rm",
		"--name", UnitName(unit.TaskID),
		"--cpus", unit.CPU,
		"--memory", unit.Memory,
	}
	for _, e := range unit.Env() {
		args = append(args, "-e", e)
	}
	args = append(args, unit.Image, "outpost", "runner")

	cmd := exec.CommandContext(ctx, d.docker(), args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker run: %w: %s", err, strings.TrimSpace(string(out)))
	}

	slog.Debug("unit started", "task_id", unit.TaskID, "container", UnitName(unit.TaskID))
	return nil
}

func (d *DockerRuntime) Stop(ctx context.Context, taskID string) error {
	cmd := exec.CommandContext(ctx, d.docker(), "rm", "-f", UnitName(taskID))
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.ToLower(string(out))
		if strings.Contains(msg, "no such container") {
			return nil
		}
		return fmt.Errorf("docker rm: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
