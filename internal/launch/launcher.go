// Package launch creates tasks: it stages inputs in the object store
// and starts a remote execution unit holding only scalar parameters.
package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dohr-michael/outpost/internal/archive"
	"github.com/dohr-michael/outpost/internal/compute"
	"github.com/dohr-michael/outpost/internal/config"
	"github.com/dohr-michael/outpost/internal/events"
	"github.com/dohr-michael/outpost/internal/secrets"
	"github.com/dohr-michael/outpost/internal/store"
	"github.com/dohr-michael/outpost/internal/task"
)

// promptPreviewLen bounds the prompt stored in the metadata record.
const promptPreviewLen = 200

// ContextEnricher optionally expands the prompt with conversation
// context before upload. Enrichment is best-effort: failures fall back
// to the raw prompt.
type ContextEnricher interface {
	Enrich(ctx context.Context, prompt string) (string, error)
}

// Options are the per-launch parameters.
type Options struct {
	Prompt       string
	SessionID    string
	WorkspaceDir string // mutually exclusive with RepoURL
	RepoURL      string
	RepoBranch   string
	CPU          string
	Memory       string
	TimeoutSec   int
}

// Launcher stages task inputs and starts execution units.
type Launcher struct {
	Store    store.Store
	Runtime  compute.Runtime
	Enricher ContextEnricher // optional
	Bus      *events.Bus     // optional
	Launch   config.LaunchConfig
	StoreCfg config.StoreConfig
}

// Start launches a new task and returns its metadata record.
// Completed steps are not rolled back on failure: the execution unit
// tolerates absent inputs.
func (l *Launcher) Start(ctx context.Context, opts Options) (*task.Task, error) {
	if opts.Prompt == "" {
		return nil, errors.New("prompt is required")
	}
	if opts.WorkspaceDir != "" && opts.RepoURL != "" {
		return nil, errors.New("workspace directory and repository reference are mutually exclusive")
	}

	// Credentials are validated before anything is uploaded: a launch
	// doomed by missing credentials must fail fast.
	credentials, shape, err := l.collectCredentials()
	if err != nil {
		return nil, err
	}

	id := task.NewID()
	hasWorkspace := false

	if opts.WorkspaceDir != "" {
		data, err := archive.Pack(opts.WorkspaceDir, l.Launch.Ignore, l.Launch.MaxArchiveBytes)
		if err != nil {
			if errors.Is(err, archive.ErrTooLarge) {
				return nil, fmt.Errorf("workspace exceeds %d bytes, use --repo with a repository reference instead: %w",
					l.Launch.MaxArchiveBytes, err)
			}
			return nil, fmt.Errorf("package workspace: %w", err)
		}
		if err := l.Store.PutArtifact(ctx, id, store.WorkspaceArtifact, data, "application/gzip"); err != nil {
			return nil, fmt.Errorf("upload workspace: %w", err)
		}
		hasWorkspace = true
	}

	prompt := l.enrich(ctx, opts.Prompt)
	if err := l.Store.PutArtifact(ctx, id, store.PromptArtifact, []byte(prompt), "text/plain"); err != nil {
		return nil, fmt.Errorf("upload prompt: %w", err)
	}

	identity, err := secrets.NewIdentity()
	if err != nil {
		return nil, fmt.Errorf("prepare credentials: %w", err)
	}
	encrypted, err := secrets.Encrypt(credentials, identity.Recipient())
	if err != nil {
		return nil, fmt.Errorf("encrypt credentials: %w", err)
	}
	if err := l.Store.PutArtifact(ctx, id, store.CredentialsArtifact, encrypted, "application/octet-stream"); err != nil {
		return nil, fmt.Errorf("upload credentials: %w", err)
	}

	unit := compute.Unit{
		TaskID:             id,
		Image:              l.Launch.Image,
		CPU:                defaultString(opts.CPU, l.Launch.CPU),
		Memory:             defaultString(opts.Memory, l.Launch.Memory),
		TimeoutSec:         defaultInt(opts.TimeoutSec, int(l.Launch.Timeout.Duration().Seconds())),
		Bucket:             l.StoreCfg.Bucket,
		Region:             l.StoreCfg.Region,
		Endpoint:           l.StoreCfg.Endpoint,
		PromptFallback:     task.Preview(opts.Prompt, promptPreviewLen),
		CredentialShape:    string(shape),
		CredentialIdentity: identity.String(),
		HasWorkspace:       hasWorkspace,
		RepoURL:            opts.RepoURL,
		RepoBranch:         opts.RepoBranch,
		AgentCommand:       l.Launch.AgentCommand,
	}
	if err := l.Runtime.Start(ctx, unit); err != nil {
		return nil, fmt.Errorf("start execution unit: %w", err)
	}

	t := &task.Task{
		ID:        id,
		Status:    task.StatusRunning,
		Prompt:    task.Preview(opts.Prompt, promptPreviewLen),
		StartedAt: time.Now().UTC(),
	}
	if err := l.Store.PutMetadata(ctx, t); err != nil {
		return nil, fmt.Errorf("write initial metadata: %w", err)
	}

	if l.Bus != nil {
		l.Bus.Publish(events.NewTypedEventWithSession(events.SourceLauncher, events.TaskLaunchedPayload{
			TaskID:        id,
			PromptPreview: t.Prompt,
		}, opts.SessionID))
	}

	slog.Info("task launched", "task_id", id)
	return t, nil
}

// Cancel stops a running task's unit out-of-band and records the
// cancelled status. The unit, already killed, cannot write it itself.
func (l *Launcher) Cancel(ctx context.Context, taskID string) error {
	t, err := l.Store.GetMetadata(ctx, taskID)
	if err != nil {
		return fmt.Errorf("read task: %w", err)
	}
	if t == nil {
		return fmt.Errorf("task %s not found", taskID)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("task %s is already %s, cannot cancel", task.ShortID(taskID), t.Status)
	}

	if err := l.Runtime.Stop(ctx, taskID); err != nil {
		return fmt.Errorf("stop execution unit: %w", err)
	}

	now := time.Now().UTC()
	t.Status = task.StatusCancelled
	t.CompletedAt = &now
	if err := l.Store.PutMetadata(ctx, t); err != nil {
		return fmt.Errorf("write cancelled metadata: %w", err)
	}

	slog.Info("task cancelled", "task_id", taskID)
	return nil
}

func (l *Launcher) enrich(ctx context.Context, prompt string) string {
	if l.Enricher == nil {
		return prompt
	}
	enriched, err := l.Enricher.Enrich(ctx, prompt)
	if err != nil {
		slog.Warn("prompt enrichment failed, using raw prompt", "error", err)
		return prompt
	}
	return enriched
}

// collectCredentials loads the configured credential payload: a
// verbatim auth file or selected environment variables as dotenv.
func (l *Launcher) collectCredentials() ([]byte, secrets.Shape, error) {
	if l.Launch.CredentialFile != "" {
		data, err := os.ReadFile(l.Launch.CredentialFile)
		if err != nil {
			return nil, "", fmt.Errorf("read credential file: %w", err)
		}
		return data, secrets.ShapeAuthFile, nil
	}

	if len(l.Launch.CredentialEnv) > 0 {
		vars := make(map[string]string, len(l.Launch.CredentialEnv))
		for _, name := range l.Launch.CredentialEnv {
			v, ok := os.LookupEnv(name)
			if !ok || v == "" {
				return nil, "", fmt.Errorf("credential variable %s is not set", name)
			}
			vars[name] = v
		}
		return secrets.FormatDotenv(vars), secrets.ShapeDotenv, nil
	}

	return nil, "", errors.New("no credentials configured: set launch.credential_file or launch.credential_env")
}

func defaultString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func defaultInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}
