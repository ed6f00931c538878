package runner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dohr-michael/outpost/internal/secrets"
	"github.com/dohr-michael/outpost/internal/store"
	"github.com/dohr-michael/outpost/internal/task"
)

func requireTools(t *testing.T) {
	t.Helper()
	for _, tool := range []string{"git", "sh"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not installed", tool)
		}
	}
}

func newRunner(t *testing.T, s store.Store, agentCommand string, timeoutSec int) *Runner {
	t.Helper()
	return &Runner{
		Store: s,
		Config: Config{
			TaskID:       task.NewID(),
			WorkDir:      filepath.Join(t.TempDir(), "workspace"),
			TimeoutSec:   timeoutSec,
			AgentCommand: agentCommand,
			AuthFilePath: filepath.Join(t.TempDir(), "auth.json"),
		},
	}
}

func TestRunCompletedWithPatch(t *testing.T) {
	requireTools(t)
	ctx := context.Background()
	s := store.NewMemStore()
	r := newRunner(t, s, `sh -c "echo working; echo hello > created.txt"`, 60)

	if err := s.PutArtifact(ctx, r.Config.TaskID, store.PromptArtifact, []byte("make a file"), "text/plain"); err != nil {
		t.Fatal(err)
	}

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	meta, err := s.GetMetadata(ctx, r.Config.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if meta == nil || meta.Status != task.StatusCompleted {
		t.Fatalf("metadata = %+v, want completed", meta)
	}
	if meta.ExitCode == nil || *meta.ExitCode != 0 {
		t.Errorf("exit code = %v", meta.ExitCode)
	}
	if meta.CompletedAt == nil {
		t.Error("completedAt missing")
	}

	diff, err := s.GetArtifact(ctx, r.Config.TaskID, store.PatchArtifact)
	if err != nil {
		t.Fatal(err)
	}
	if diff == nil || !strings.Contains(string(diff), "created.txt") {
		t.Errorf("patch = %q, want created.txt change", diff)
	}

	output, err := s.GetArtifact(ctx, r.Config.TaskID, store.OutputArtifact)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(output), "working") {
		t.Errorf("output = %q", output)
	}
}

func TestRunNoChangesNoPatch(t *testing.T) {
	requireTools(t)
	ctx := context.Background()
	s := store.NewMemStore()
	r := newRunner(t, s, `sh -c "true"`, 60)

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Has(r.Config.TaskID, store.PatchArtifact) {
		t.Error("patch must be absent when nothing changed")
	}
	meta, _ := s.GetMetadata(ctx, r.Config.TaskID)
	if meta.Status != task.StatusCompleted {
		t.Errorf("status = %s", meta.Status)
	}
}

func TestRunFailedExitCode(t *testing.T) {
	requireTools(t)
	ctx := context.Background()
	s := store.NewMemStore()
	r := newRunner(t, s, `sh -c "exit 3"`, 60)

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	meta, _ := s.GetMetadata(ctx, r.Config.TaskID)
	if meta.Status != task.StatusFailed {
		t.Errorf("status = %s, want failed", meta.Status)
	}
	if meta.ExitCode == nil || *meta.ExitCode != 3 {
		t.Errorf("exit code = %v, want 3", meta.ExitCode)
	}
	if !strings.Contains(meta.Error, "exited with code 3") {
		t.Errorf("error = %q", meta.Error)
	}
}

func TestRunTimeout(t *testing.T) {
	requireTools(t)
	ctx := context.Background()
	s := store.NewMemStore()
	r := newRunner(t, s, `sh -c "sleep 30"`, 1)

	start := time.Now()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The sleep grandchild holds the output pipes; the group kill must
	// not leave Run waiting for it.
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timed-out run took %s", elapsed)
	}

	meta, _ := s.GetMetadata(ctx, r.Config.TaskID)
	if meta.Status != task.StatusFailed {
		t.Errorf("status = %s, want failed", meta.Status)
	}
	if meta.ExitCode == nil || *meta.ExitCode != 124 {
		t.Errorf("exit code = %v, want 124", meta.ExitCode)
	}
	if !strings.Contains(meta.Error, "timed out") {
		t.Errorf("error = %q, want timeout text", meta.Error)
	}
}

func TestCredentialsAppliedAndDeleted(t *testing.T) {
	requireTools(t)
	ctx := context.Background()
	s := store.NewMemStore()
	r := newRunner(t, s, `sh -c "echo key is $TEST_AGENT_KEY"`, 60)

	identity, err := secrets.NewIdentity()
	if err != nil {
		t.Fatal(err)
	}
	payload := secrets.FormatDotenv(map[string]string{"TEST_AGENT_KEY": "sk-42"})
	encrypted, err := secrets.Encrypt(payload, identity.Recipient())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PutArtifact(ctx, r.Config.TaskID, store.CredentialsArtifact, encrypted, "application/octet-stream"); err != nil {
		t.Fatal(err)
	}
	r.Config.CredentialShape = string(secrets.ShapeDotenv)
	r.Config.CredentialIdentity = identity.String()

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if s.Has(r.Config.TaskID, store.CredentialsArtifact) {
		t.Error("credential artifact must be deleted after read")
	}

	output, _ := s.GetArtifact(ctx, r.Config.TaskID, store.OutputArtifact)
	if !strings.Contains(string(output), "key is sk-42") {
		t.Errorf("credential env not applied, output = %q", output)
	}
}

func TestAgentCommandExpandsCredentialEnv(t *testing.T) {
	requireTools(t)
	s := store.NewMemStore()
	r := newRunner(t, s, `sh -c "echo key is $TEST_AGENT_KEY"`, 60)
	r.extraEnv = []string{"TEST_AGENT_KEY=sk-42"}
	if err := os.MkdirAll(r.Config.WorkDir, 0o755); err != nil {
		t.Fatal(err)
	}

	code, failure := r.runAgent(context.Background(), "")
	if code != 0 || failure != "" {
		t.Fatalf("runAgent = %d %q", code, failure)
	}
	if got := string(r.output.Bytes()); !strings.Contains(got, "key is sk-42") {
		t.Errorf("credential env not expanded, output = %q", got)
	}
}

func TestCredentialsDeletedEvenWhenMalformed(t *testing.T) {
	requireTools(t)
	ctx := context.Background()
	s := store.NewMemStore()
	r := newRunner(t, s, `sh -c "true"`, 60)

	if err := s.PutArtifact(ctx, r.Config.TaskID, store.CredentialsArtifact, []byte("not age data"), "application/octet-stream"); err != nil {
		t.Fatal(err)
	}
	r.Config.CredentialShape = string(secrets.ShapeDotenv)

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run must tolerate credential failure: %v", err)
	}

	if s.Has(r.Config.TaskID, store.CredentialsArtifact) {
		t.Error("credential artifact must be deleted even when parsing fails")
	}
	meta, _ := s.GetMetadata(ctx, r.Config.TaskID)
	if meta.Status != task.StatusCompleted {
		t.Errorf("status = %s", meta.Status)
	}
}

func TestAuthFileShape(t *testing.T) {
	requireTools(t)
	ctx := context.Background()
	s := store.NewMemStore()
	r := newRunner(t, s, `sh -c "true"`, 60)

	blob := []byte(`{"token":"tok-1"}`)
	if err := s.PutArtifact(ctx, r.Config.TaskID, store.CredentialsArtifact, blob, "application/octet-stream"); err != nil {
		t.Fatal(err)
	}
	r.Config.CredentialShape = string(secrets.ShapeAuthFile)

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	written, err := os.ReadFile(r.Config.AuthFilePath)
	if err != nil {
		t.Fatalf("auth file not written: %v", err)
	}
	if string(written) != string(blob) {
		t.Errorf("auth file = %q", written)
	}
}

func TestPromptOverridesFallback(t *testing.T) {
	requireTools(t)
	ctx := context.Background()
	s := store.NewMemStore()
	r := newRunner(t, s, `echo`, 60)
	r.Config.PromptFallback = "fallback"

	if err := s.PutArtifact(ctx, r.Config.TaskID, store.PromptArtifact, []byte("stored prompt"), "text/plain"); err != nil {
		t.Fatal(err)
	}

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The agent command receives the prompt as its final argument; echo
	// writes it into the captured output.
	output, _ := s.GetArtifact(ctx, r.Config.TaskID, store.OutputArtifact)
	if !strings.Contains(string(output), "stored prompt") {
		t.Errorf("output = %q, want stored prompt", output)
	}
	meta, _ := s.GetMetadata(ctx, r.Config.TaskID)
	if meta.Prompt != "stored prompt" {
		t.Errorf("metadata prompt = %q", meta.Prompt)
	}
}
