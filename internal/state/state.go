// Package state persists the last-known build facts of every package.
//
// A record is a flat string mapping keyed by the package configuration name.
// Writes that would not change the stored record are skipped entirely, so
// repeated runs without changes leave the backing file untouched.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrPersistence wraps every failure of the backing store
var ErrPersistence = errors.New("state persistence failure")

// Well-known fact keys
const (
	KeySourceVersion      = "source_version"
	KeySourceFiles        = "source_files"
	KeyRPMLastVersion     = "rpm_last_version"
	KeyRPMLastBaseVersion = "rpm_last_base_version"
	KeyRPMLastRelease     = "rpm_last_release"
	KeySRPMLastFile       = "srpm_last_file"
)

// Backend names accepted by Open
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Facts is the flat record stored for one package
type Facts map[string]string

// Store reads and writes package records
type Store interface {
	// Read returns the record for confName, or empty Facts if there is none
	Read(ctx context.Context, confName string) (Facts, error)
	// Write merges facts into the record unless they are already a subset of it
	Write(ctx context.Context, confName string, facts Facts) error
	// Remove deletes the record; removing an unknown package is not an error
	Remove(ctx context.Context, confName string) error
	// List returns the names of all stored packages, sorted
	List(ctx context.Context) ([]string, error)
	// Close releases the backend
	Close() error
}

// Open returns the store for the given backend name
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendJSON, "":
		return NewJSONStore(path), nil
	case BackendSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown state backend %q (must be json or sqlite)", backend)
	}
}

// IsSubset reports whether every key of facts is present in record with the
// same value
func IsSubset(facts, record Facts) bool {
	for k, v := range facts {
		stored, ok := record[k]
		if !ok || stored != v {
			return false
		}
	}
	return true
}

// Merge returns a copy of record with facts applied on top
func Merge(record, facts Facts) Facts {
	merged := make(Facts, len(record)+len(facts))
	for k, v := range record {
		merged[k] = v
	}
	for k, v := range facts {
		merged[k] = v
	}
	return merged
}

// Clone returns a copy of f that never is nil
func (f Facts) Clone() Facts {
	return Merge(f, nil)
}

// Keys returns the fact keys, sorted
func (f Facts) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EncodeList encodes an ordered list of strings as a single fact value
func EncodeList(items []string) string {
	if items == nil {
		items = []string{}
	}
	data, _ := json.Marshal(items)
	return string(data)
}

// DecodeList decodes a value written by EncodeList. An empty value is an
// empty list.
func DecodeList(value string) ([]string, error) {
	if value == "" {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(value), &items); err != nil {
		return nil, fmt.Errorf("invalid list value %q: %w", value, err)
	}
	return items, nil
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
