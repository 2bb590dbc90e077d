package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
)

// JSONStore keeps all records in a single JSON document
// ({"conf_name": {"key": "value"}}), rewritten atomically on change
type JSONStore struct {
	path string
}

// NewJSONStore creates a store backed by the file at path. The file is
// created on the first effective write.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Path returns the backing file path
func (s *JSONStore) Path() string {
	return s.path
}

// Read returns the record for confName
func (s *JSONStore) Read(_ context.Context, confName string) (Facts, error) {
	records, err := s.load()
	if err != nil {
		return nil, err
	}
	return records[confName].Clone(), nil
}

// Write merges facts into the record for confName
func (s *JSONStore) Write(_ context.Context, confName string, facts Facts) error {
	if len(facts) == 0 {
		return nil
	}

	records, err := s.load()
	if err != nil {
		return err
	}

	current, exists := records[confName]
	if exists && IsSubset(facts, current) {
		return nil
	}

	records[confName] = Merge(current, facts)
	return s.save(records)
}

// Remove deletes the record for confName
func (s *JSONStore) Remove(_ context.Context, confName string) error {
	records, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := records[confName]; !ok {
		return nil
	}
	delete(records, confName)
	return s.save(records)
}

// List returns all package names
func (s *JSONStore) List(_ context.Context) ([]string, error) {
	records, err := s.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op for the file backend
func (s *JSONStore) Close() error {
	return nil
}

// load reads all records; a missing file is an empty store
func (s *JSONStore) load() (map[string]Facts, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]Facts), nil
		}
		return nil, persistenceError("read state file", err)
	}

	records := make(map[string]Facts)
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, persistenceError("parse state file", err)
	}
	return records, nil
}

// save persists all records with write-to-temp and rename
func (s *JSONStore) save(records map[string]Facts) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return persistenceError("encode state", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return persistenceError("create state directory", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".rpmsnap-state-*")
	if err != nil {
		return persistenceError("create temp state file", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return persistenceError("write state file", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return persistenceError("sync state file", err)
	}
	if err := tmpFile.Close(); err != nil {
		return persistenceError("close state file", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return persistenceError("replace state file", err)
	}
	return nil
}
