package launch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dohr-michael/outpost/internal/compute"
	"github.com/dohr-michael/outpost/internal/config"
	"github.com/dohr-michael/outpost/internal/store"
	"github.com/dohr-michael/outpost/internal/task"
)

type fakeRuntime struct {
	mu      sync.Mutex
	started []compute.Unit
	stopped []string
	failErr error
}

func (f *fakeRuntime) Start(_ context.Context, unit compute.Unit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.started = append(f.started, unit)
	return nil
}

func (f *fakeRuntime) Stop(_ context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, taskID)
	return nil
}

type failingEnricher struct{}

func (failingEnricher) Enrich(context.Context, string) (string, error) {
	return "", errors.New("history unavailable")
}

func newLauncher(t *testing.T, s store.Store, rt compute.Runtime) *Launcher {
	t.Helper()
	t.Setenv("FAKE_API_KEY", "sk-test")
	return &Launcher{
		Store:   s,
		Runtime: rt,
		Launch: config.LaunchConfig{
			Image:           "outpost-runner:latest",
			CPU:             "2",
			Memory:          "4g",
			Timeout:         config.Duration(10 * time.Minute),
			MaxArchiveBytes: 128 << 20,
			AgentCommand:    "claude -p",
			CredentialEnv:   []string{"FAKE_API_KEY"},
		},
		StoreCfg: config.StoreConfig{Bucket: "outpost-tasks", Region: "us-east-1"},
	}
}

func TestStartWritesInitialMetadata(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	rt := &fakeRuntime{}
	l := newLauncher(t, s, rt)

	created, err := l.Start(ctx, Options{Prompt: "test"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(created.ID) != task.IDLength {
		t.Errorf("task id = %q", created.ID)
	}

	got, err := s.GetMetadata(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Status != task.StatusRunning {
		t.Errorf("initial metadata = %+v, want running", got)
	}
	if got.Prompt != "test" {
		t.Errorf("prompt = %q", got.Prompt)
	}

	if !s.Has(created.ID, store.PromptArtifact) {
		t.Error("prompt artifact missing")
	}
	if !s.Has(created.ID, store.CredentialsArtifact) {
		t.Error("credentials artifact missing")
	}

	if len(rt.started) != 1 {
		t.Fatalf("expected 1 unit start, got %d", len(rt.started))
	}
	unit := rt.started[0]
	if unit.TaskID != created.ID || unit.CredentialShape != "dotenv" {
		t.Errorf("unit = %+v", unit)
	}
	if unit.CredentialIdentity == "" {
		t.Error("unit must carry the decryption identity")
	}
}

func TestStartUploadsWorkspace(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	l := newLauncher(t, s, &fakeRuntime{})

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	created, err := l.Start(ctx, Options{Prompt: "fix build", WorkspaceDir: dir})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Has(created.ID, store.WorkspaceArtifact) {
		t.Error("workspace artifact missing")
	}
}

func TestStartRejectsOversizedWorkspace(t *testing.T) {
	s := store.NewMemStore()
	l := newLauncher(t, s, &fakeRuntime{})
	l.Launch.MaxArchiveBytes = 16

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "big.txt"), []byte(strings.Repeat("data", 4096)), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := l.Start(context.Background(), Options{Prompt: "p", WorkspaceDir: dir})
	if err == nil || !strings.Contains(err.Error(), "repository reference") {
		t.Errorf("expected size-cap error advising a repo reference, got %v", err)
	}
}

func TestStartRejectsWorkspaceAndRepo(t *testing.T) {
	l := newLauncher(t, store.NewMemStore(), &fakeRuntime{})
	_, err := l.Start(context.Background(), Options{
		Prompt:       "p",
		WorkspaceDir: t.TempDir(),
		RepoURL:      "https://example.com/r.git",
	})
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Errorf("expected mutual-exclusion error, got %v", err)
	}
}

func TestStartFailsFastOnMissingCredentials(t *testing.T) {
	s := store.NewMemStore()
	l := newLauncher(t, s, &fakeRuntime{})
	l.Launch.CredentialEnv = []string{"OUTPOST_TEST_MISSING_VAR"}
	os.Unsetenv("OUTPOST_TEST_MISSING_VAR")

	_, err := l.Start(context.Background(), Options{Prompt: "p"})
	if err == nil || !strings.Contains(err.Error(), "OUTPOST_TEST_MISSING_VAR") {
		t.Errorf("expected actionable credential error, got %v", err)
	}

	// Nothing was uploaded: credential validation happens first.
	ids, _ := s.ListTaskIDs(context.Background(), 0)
	if len(ids) != 0 {
		t.Errorf("no task should exist after credential failure, got %v", ids)
	}
}

func TestEnrichmentFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	l := newLauncher(t, s, &fakeRuntime{})
	l.Enricher = failingEnricher{}

	created, err := l.Start(ctx, Options{Prompt: "raw prompt"})
	if err != nil {
		t.Fatalf("Start must tolerate enrichment failure: %v", err)
	}

	data, err := s.GetArtifact(ctx, created.ID, store.PromptArtifact)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "raw prompt" {
		t.Errorf("prompt artifact = %q, want raw prompt", data)
	}
}

func TestCancelRunning(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	rt := &fakeRuntime{}
	l := newLauncher(t, s, rt)

	created, err := l.Start(ctx, Options{Prompt: "p"})
	if err != nil {
		t.Fatal(err)
	}

	if err := l.Cancel(ctx, created.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if len(rt.stopped) != 1 || rt.stopped[0] != created.ID {
		t.Errorf("stopped = %v", rt.stopped)
	}

	got, _ := s.GetMetadata(ctx, created.ID)
	if got.Status != task.StatusCancelled || got.CompletedAt == nil {
		t.Errorf("metadata after cancel = %+v", got)
	}
}

func TestCancelTerminalIsRejected(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	l := newLauncher(t, s, &fakeRuntime{})

	id := task.NewID()
	done := time.Now().UTC()
	if err := s.PutMetadata(ctx, &task.Task{
		ID: id, Status: task.StatusCompleted, StartedAt: done, CompletedAt: &done,
	}); err != nil {
		t.Fatal(err)
	}

	err := l.Cancel(ctx, id)
	if err == nil || !strings.Contains(err.Error(), "already completed, cannot cancel") {
		t.Errorf("expected already-completed error, got %v", err)
	}

	got, _ := s.GetMetadata(ctx, id)
	if got.Status != task.StatusCompleted {
		t.Errorf("stored metadata must not change, got %s", got.Status)
	}
}
