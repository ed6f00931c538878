package compute

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LocalRuntime starts units as detached subprocesses of the current
// binary. Intended for development; CPU/memory sizing is ignored.
type LocalRuntime struct {
	// PidDir holds one pid file per running unit.
	PidDir string
}

func NewLocalRuntime(pidDir string) *LocalRuntime {
	return &LocalRuntime{PidDir: pidDir}
}

func (l *LocalRuntime) Start(ctx context.Context, unit Unit) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate binary: %w", err)
	}

	workDir, err := os.MkdirTemp("", "outpost-unit-*")
	if err != nil {
		return fmt.Errorf("unit workdir: %w", err)
	}

	cmd := exec.Command(self, "runner")
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), unit.Env()...)
	cmd.Env = append(cmd.Env, "OUTPOST_WORKDIR="+filepath.Join(workDir, "workspace"))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start unit: %w", err)
	}

	if err := os.MkdirAll(l.PidDir, 0o755); err != nil {
		return fmt.Errorf("pid dir: %w", err)
	}
	pidFile := filepath.Join(l.PidDir, UnitName(unit.TaskID)+".pid")
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	slog.Debug("unit started", "task_id", unit.TaskID, "pid", cmd.Process.Pid)

	// Reap the child so it does not linger as a zombie.
	go func() {
		_ = cmd.Wait()
		os.Remove(pidFile)
	}()
	return nil
}

func (l *LocalRuntime) Stop(_ context.Context, taskID string) error {
	pidFile := filepath.Join(l.PidDir, UnitName(taskID)+".pid")
	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("parse pid file: %w", err)
	}

	// Kill the whole process group so the agent subprocess dies too.
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("kill unit: %w", err)
	}
	os.Remove(pidFile)
	return nil
}
