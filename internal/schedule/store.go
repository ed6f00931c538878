package schedule

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store persists schedule entries as one JSON document on disk.
// Writes go through a temp file and rename so a crash never leaves a
// half-written schedule list.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// List returns all persisted entries. A missing file is an empty list.
func (s *Store) List() ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns the entry matching an id or a name, nil when absent.
func (s *Store) Get(key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.ID == key || e.Name == key {
			return e, nil
		}
	}
	return nil, nil
}

// Create validates and persists a new entry, assigning id and creation
// time. Names must be unique.
func (s *Store) Create(e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	for _, existing := range entries {
		if existing.Name == e.Name {
			return fmt.Errorf("schedule %q already exists", e.Name)
		}
	}
	if e.ID == "" {
		e.ID = GenerateID()
	}
	e.CreatedAt = time.Now()
	entries = append(entries, e)
	return s.save(entries)
}

// Update rewrites an existing entry in place.
func (s *Store) Update(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	for i, existing := range entries {
		if existing.ID == e.ID {
			entries[i] = e
			return s.save(entries)
		}
	}
	return fmt.Errorf("schedule %q not found", e.ID)
}

// Delete removes the entry matching an id or a name.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	for i, existing := range entries {
		if existing.ID == key || existing.Name == key {
			entries = append(entries[:i], entries[i+1:]...)
			return s.save(entries)
		}
	}
	return fmt.Errorf("schedule %q not found", key)
}

func (s *Store) load() ([]*Entry, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read schedules: %w", err)
	}
	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse schedules: %w", err)
	}
	return entries, nil
}

func (s *Store) save(entries []*Entry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create schedules directory: %w", err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write schedules: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace schedules: %w", err)
	}
	return nil
}
