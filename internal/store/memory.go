package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dohr-michael/outpost/internal/task"
)

// MemStore is an in-memory Store used by tests and by the local
// runtime's dry runs. It mirrors the absence semantics of the S3 store.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	seq     int64

	// Err, when set, is returned by every operation. Tests use it to
	// simulate transient store failures.
	Err error
}

type memObject struct {
	data        []byte
	contentType string
	seq         int64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string]memObject)}
}

func (m *MemStore) PutMetadata(_ context.Context, t *task.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return m.put(ObjectKey(t.ID, MetadataObject), data, "application/json")
}

func (m *MemStore) GetMetadata(_ context.Context, taskID string) (*task.Task, error) {
	data, err := m.get(ObjectKey(taskID, MetadataObject))
	if err != nil || data == nil {
		return nil, err
	}
	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", task.ErrInvalidRecord, err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (m *MemStore) PutArtifact(_ context.Context, taskID, name string, data []byte, contentType string) error {
	return m.put(ObjectKey(taskID, name), data, contentType)
}

func (m *MemStore) GetArtifact(_ context.Context, taskID, name string) ([]byte, error) {
	return m.get(ObjectKey(taskID, name))
}

func (m *MemStore) DeleteArtifact(_ context.Context, taskID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.objects, ObjectKey(taskID, name))
	return nil
}

func (m *MemStore) ListTaskIDs(_ context.Context, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	type entry struct {
		id  string
		seq int64
	}
	var entries []entry
	for key, obj := range m.objects {
		if !strings.HasSuffix(key, "/"+MetadataObject) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(key, taskPrefix), "/"+MetadataObject)
		entries = append(entries, entry{id: id, seq: obj.seq})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.id)
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Has reports whether an object exists, for test assertions.
func (m *MemStore) Has(taskID, name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[ObjectKey(taskID, name)]
	return ok
}

func (m *MemStore) put(key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.seq++
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = memObject{data: cp, contentType: contentType, seq: m.seq}
	return nil
}

func (m *MemStore) get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(obj.data))
	copy(cp, obj.data)
	return cp, nil
}
