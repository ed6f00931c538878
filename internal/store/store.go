// Package store is the typed client for the shared object store that
// the launcher, the tracker and the remote execution unit coordinate
// through. Objects are namespaced by task id:
//
//	tasks/{id}/metadata.json
//	tasks/{id}/workspace.tar.gz
//	tasks/{id}/prompt.txt
//	tasks/{id}/auth.json
//	tasks/{id}/output.txt
//	tasks/{id}/changes.patch
//
// "Not found" on any read is modeled as an absent value (nil, nil), not
// an error. All other store errors propagate.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/dohr-michael/outpost/internal/task"
)

// Artifact object names within a task's namespace.
const (
	MetadataObject      = "metadata.json"
	WorkspaceArtifact   = "workspace.tar.gz"
	PromptArtifact      = "prompt.txt"
	CredentialsArtifact = "auth.json"
	OutputArtifact      = "output.txt"
	PatchArtifact       = "changes.patch"
)

const taskPrefix = "tasks/"

// ObjectKey returns the full store key for a task object.
func ObjectKey(taskID, name string) string {
	return taskPrefix + taskID + "/" + name
}

// Store is the typed get/put/list surface over the object store.
type Store interface {
	// PutMetadata writes the task metadata record.
	PutMetadata(ctx context.Context, t *task.Task) error
	// GetMetadata reads the task metadata record; (nil, nil) when absent.
	GetMetadata(ctx context.Context, taskID string) (*task.Task, error)
	// PutArtifact writes a named artifact for a task.
	PutArtifact(ctx context.Context, taskID, name string, data []byte, contentType string) error
	// GetArtifact reads a named artifact; (nil, nil) when absent.
	GetArtifact(ctx context.Context, taskID, name string) ([]byte, error)
	// DeleteArtifact removes a named artifact. Deleting an absent
	// artifact is not an error.
	DeleteArtifact(ctx context.Context, taskID, name string) error
	// ListTaskIDs returns task ids, most recently touched first.
	// limit <= 0 returns all.
	ListTaskIDs(ctx context.Context, limit int) ([]string, error)
}

// AmbiguousIDError reports a task id prefix matching more than one task.
type AmbiguousIDError struct {
	Prefix     string
	Candidates []string
}

func (e *AmbiguousIDError) Error() string {
	return fmt.Sprintf("task id prefix %q is ambiguous, matches: %s",
		e.Prefix, strings.Join(e.Candidates, ", "))
}

// ResolveTaskID resolves a full id or an unambiguous prefix to a full
// task id. A full-length id is returned as-is without a store lookup.
// Returns ("", nil) when nothing matches.
func ResolveTaskID(ctx context.Context, s Store, prefix string) (string, error) {
	if len(prefix) == task.IDLength {
		return prefix, nil
	}

	ids, err := s.ListTaskIDs(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("list tasks: %w", err)
	}

	var matches []string
	for _, id := range ids {
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}

	switch len(matches) {
	case 0:
		return "", nil
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousIDError{Prefix: prefix, Candidates: matches}
	}
}
