// Package runner implements the execution-unit side of the task
// protocol. It runs once inside a disposable container: download
// inputs, establish a version-control baseline, run the agent, and on
// any exit path upload the diff, the output and the final metadata.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"mvdan.cc/sh/v3/shell"

	"github.com/dohr-michael/outpost/internal/archive"
	"github.com/dohr-michael/outpost/internal/secrets"
	"github.com/dohr-michael/outpost/internal/store"
	"github.com/dohr-michael/outpost/internal/task"
)

// timeoutExitCode is the reserved exit code for timeout kills.
const timeoutExitCode = 124

// outputFlushInterval controls how often the captured output is pushed
// to the store while the agent runs, so the tracker's log poll has
// something to read before the final upload.
const outputFlushInterval = 10 * time.Second

// cleanupTimeout bounds the final uploads: the run context may already
// be expired when cleanup fires.
const cleanupTimeout = 2 * time.Minute

// Config holds the scalar parameters the unit was launched with.
type Config struct {
	TaskID             string
	WorkDir            string
	TimeoutSec         int
	PromptFallback     string
	CredentialShape    string
	CredentialIdentity string
	HasWorkspace       bool
	RepoURL            string
	RepoBranch         string
	AgentCommand       string
	AuthFilePath       string // target for authfile-shaped credentials
}

// Runner executes one task to completion.
type Runner struct {
	Store  store.Store
	Config Config

	output   syncBuffer
	extraEnv []string
}

// Run performs the full execution-unit sequence. The cleanup stage is a
// single deferred block and runs exactly once regardless of which exit
// path is taken.
func (r *Runner) Run(ctx context.Context) error {
	if r.Config.TaskID == "" {
		return errors.New("task id is required")
	}

	startedAt := time.Now().UTC()
	exitCode := 0
	failure := ""
	baselineHash := ""
	prompt := r.Config.PromptFallback

	cleanupDone := false
	cleanup := func() {
		if cleanupDone {
			return
		}
		cleanupDone = true
		r.finish(startedAt, baselineHash, prompt, exitCode, failure)
	}
	defer cleanup()

	// Workspace.
	if err := r.acquireWorkspace(ctx); err != nil {
		exitCode = 1
		failure = err.Error()
		return err
	}

	hash, err := baseline(ctx, r.Config.WorkDir)
	if err != nil {
		exitCode = 1
		failure = err.Error()
		return err
	}
	baselineHash = hash
	r.logf("=== baseline established %s", task.ShortID(hash))

	// Credentials: the artifact is deleted immediately after reading,
	// whether or not it parses.
	if err := r.applyCredentials(ctx); err != nil {
		slog.Warn("credentials not applied", "error", err)
		r.logf("WARN credentials not applied: %v", err)
	}

	// Prompt artifact overrides the inline fallback.
	if data, err := r.Store.GetArtifact(ctx, r.Config.TaskID, store.PromptArtifact); err != nil {
		slog.Warn("prompt fetch failed, using fallback", "error", err)
	} else if data != nil {
		prompt = string(data)
	}

	// Periodic output flush while the agent runs.
	flushStop := make(chan struct{})
	var flushWg sync.WaitGroup
	flushWg.Add(1)
	go func() {
		defer flushWg.Done()
		ticker := time.NewTicker(outputFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.uploadOutput(ctx)
			case <-flushStop:
				return
			}
		}
	}()

	r.logf("=== running agent")
	exitCode, failure = r.runAgent(ctx, prompt)

	close(flushStop)
	flushWg.Wait()

	cleanup()
	return nil
}

func (r *Runner) acquireWorkspace(ctx context.Context) error {
	if err := os.MkdirAll(r.Config.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}

	switch {
	case r.Config.HasWorkspace:
		data, err := r.Store.GetArtifact(ctx, r.Config.TaskID, store.WorkspaceArtifact)
		if err != nil {
			return fmt.Errorf("fetch workspace: %w", err)
		}
		if data == nil {
			// Tolerated: proceed from an empty directory.
			r.logf("WARN workspace artifact absent, starting empty")
			return nil
		}
		if err := archive.Unpack(data, r.Config.WorkDir); err != nil {
			return err
		}
		r.logf("=== workspace unpacked")
	case r.Config.RepoURL != "":
		r.logf("=== cloning repository %s", r.Config.RepoURL)
		if err := clone(ctx, r.Config.RepoURL, r.Config.RepoBranch, r.Config.WorkDir); err != nil {
			return err
		}
	default:
		r.logf("=== starting from empty workspace")
	}
	return nil
}

func (r *Runner) applyCredentials(ctx context.Context) error {
	data, err := r.Store.GetArtifact(ctx, r.Config.TaskID, store.CredentialsArtifact)
	if err != nil {
		return fmt.Errorf("fetch credentials: %w", err)
	}
	if data == nil {
		return nil
	}

	// Delete before parsing: credentials never stay at rest after
	// consumption.
	if err := r.Store.DeleteArtifact(ctx, r.Config.TaskID, store.CredentialsArtifact); err != nil {
		slog.Warn("credential artifact delete failed", "error", err)
	}

	if r.Config.CredentialIdentity != "" {
		identity, err := secrets.ParseIdentity(r.Config.CredentialIdentity)
		if err != nil {
			return err
		}
		data, err = secrets.Decrypt(data, identity)
		if err != nil {
			return err
		}
	}

	shape := secrets.Shape(r.Config.CredentialShape)
	switch shape {
	case secrets.ShapeAuthFile:
		path := r.Config.AuthFilePath
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("resolve auth path: %w", err)
			}
			path = filepath.Join(home, ".outpost-agent", "auth.json")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("write auth file: %w", err)
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("write auth file: %w", err)
		}
	case secrets.ShapeDotenv:
		vars, err := secrets.ParseDotenv(data)
		if err != nil {
			return err
		}
		for k, v := range vars {
			r.extraEnv = append(r.extraEnv, k+"="+v)
		}
	default:
		return fmt.Errorf("unknown credential shape %q", shape)
	}

	r.logf("=== credentials applied")
	return nil
}

// runAgent executes the agent command under the wall-clock timeout and
// maps the result to an exit code and failure text.
func (r *Runner) runAgent(ctx context.Context, prompt string) (int, string) {
	// Variable references in the command resolve against the credential
	// env first, so a configured "$TOKEN" sees the applied credentials.
	fields, err := shell.Fields(r.Config.AgentCommand, r.lookupEnv)
	if err != nil || len(fields) == 0 {
		return 1, fmt.Sprintf("invalid agent command %q", r.Config.AgentCommand)
	}

	timeout := time.Duration(r.Config.TimeoutSec) * time.Second
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := append(fields[1:], prompt)
	cmd := exec.CommandContext(runCtx, fields[0], args...)
	cmd.Dir = r.Config.WorkDir
	cmd.Env = append(cmd.Environ(), r.extraEnv...)
	cmd.Stdout = io.MultiWriter(os.Stdout, &r.output)
	cmd.Stderr = io.MultiWriter(os.Stderr, &r.output)

	// Run the agent in its own process group and kill the whole group
	// on timeout, so agent subprocesses cannot hold the output pipes
	// open past the deadline. WaitDelay is the backstop for anything
	// that survives the group kill.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	err = cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return timeoutExitCode, fmt.Sprintf("timed out after %ds", r.Config.TimeoutSec)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			return code, fmt.Sprintf("agent exited with code %d", code)
		}
		return 1, fmt.Sprintf("agent failed to start: %v", err)
	}
	return 0, ""
}

// lookupEnv resolves a variable name against the credential env, then
// the process environment.
func (r *Runner) lookupEnv(name string) string {
	for _, kv := range r.extraEnv {
		if v, ok := strings.CutPrefix(kv, name+"="); ok {
			return v
		}
	}
	return os.Getenv(name)
}

// finish is the guaranteed-cleanup stage: stage the working tree, diff
// against the baseline, upload patch and output, write final metadata.
// It uses a fresh context because the run context may be expired.
func (r *Runner) finish(startedAt time.Time, baselineHash, prompt string, exitCode int, failure string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if baselineHash != "" {
		diff, err := diffSince(ctx, r.Config.WorkDir, baselineHash)
		if err != nil {
			slog.Error("diff against baseline failed", "error", err)
			r.logf("ERROR diff against baseline failed: %v", err)
		} else if diff != "" {
			if err := r.Store.PutArtifact(ctx, r.Config.TaskID, store.PatchArtifact, []byte(diff), "text/x-diff"); err != nil {
				slog.Error("patch upload failed", "error", err)
			}
		}
	}

	r.logf("=== finished with exit code %d", exitCode)
	r.uploadOutput(ctx)

	status := task.StatusCompleted
	if exitCode != 0 {
		status = task.StatusFailed
	}
	now := time.Now().UTC()
	final := &task.Task{
		ID:          r.Config.TaskID,
		Status:      status,
		Prompt:      task.Preview(prompt, 200),
		StartedAt:   startedAt,
		CompletedAt: &now,
		ExitCode:    &exitCode,
		Error:       failure,
	}
	if err := r.Store.PutMetadata(ctx, final); err != nil {
		slog.Error("final metadata write failed", "error", err)
	}
}

func (r *Runner) uploadOutput(ctx context.Context) {
	data := r.output.Bytes()
	if len(data) == 0 {
		return
	}
	if err := r.Store.PutArtifact(ctx, r.Config.TaskID, store.OutputArtifact, data, "text/plain"); err != nil {
		slog.Warn("output upload failed", "error", err)
	}
}

// logf writes a line into the captured output stream.
func (r *Runner) logf(format string, args ...any) {
	fmt.Fprintf(&r.output, format+"\n", args...)
}

// syncBuffer is a mutex-guarded buffer shared between the agent's
// output pipes and the periodic flusher.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}
