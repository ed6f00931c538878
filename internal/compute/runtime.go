// Package compute is the boundary to the infrastructure that hosts
// execution units. Units receive only small scalar parameters and
// artifact references, passed through their environment.
package compute

import (
	"context"
	"strconv"
)

// Unit describes one execution unit to start. Everything here must stay
// small and scalar; bulk inputs travel through the object store.
type Unit struct {
	TaskID     string
	Image      string
	CPU        string
	Memory     string
	TimeoutSec int

	Bucket   string
	Region   string
	Endpoint string

	PromptFallback     string
	CredentialShape    string
	CredentialIdentity string
	HasWorkspace       bool
	RepoURL            string
	RepoBranch         string
	AgentCommand       string
}

// Env returns the unit parameters as environment assignments for the
// runner process.
func (u Unit) Env() []string {
	env := []string{
		"OUTPOST_TASK_ID=" + u.TaskID,
		"OUTPOST_BUCKET=" + u.Bucket,
		"OUTPOST_REGION=" + u.Region,
		"OUTPOST_TIMEOUT_SEC=" + strconv.Itoa(u.TimeoutSec),
	}
	if u.Endpoint != "" {
		env = append(env, "OUTPOST_ENDPOINT="+u.Endpoint)
	}
	if u.PromptFallback != "" {
		env = append(env, "OUTPOST_PROMPT="+u.PromptFallback)
	}
	if u.CredentialShape != "" {
		env = append(env, "OUTPOST_CREDENTIAL_SHAPE="+u.CredentialShape)
		env = append(env, "OUTPOST_CREDENTIAL_IDENTITY="+u.CredentialIdentity)
	}
	if u.HasWorkspace {
		env = append(env, "OUTPOST_HAS_WORKSPACE=1")
	}
	if u.RepoURL != "" {
		env = append(env, "OUTPOST_REPO_URL="+u.RepoURL)
		if u.RepoBranch != "" {
			env = append(env, "OUTPOST_REPO_BRANCH="+u.RepoBranch)
		}
	}
	if u.AgentCommand != "" {
		env = append(env, "OUTPOST_AGENT_COMMAND="+u.AgentCommand)
	}
	return env
}

// UnitName returns the stable compute-side name for a task's unit, so
// Stop needs only the task id.
func UnitName(taskID string) string {
	name := taskID
	if len(name) > 8 {
		name = name[:8]
	}
	return "outpost-" + name
}

// Runtime starts and stops execution units. Provisioning of the
// underlying cluster, network and registry is outside this interface.
type Runtime interface {
	// Start launches the unit detached; it returns once the unit is
	// submitted, not when it finishes.
	Start(ctx context.Context, unit Unit) error
	// Stop kills the unit out-of-band. Stopping an already-gone unit
	// is not an error.
	Stop(ctx context.Context, taskID string) error
}
