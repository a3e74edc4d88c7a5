package codec

import (
	"encoding/json"
	"slices"
	"time"
)

// VariableEntry is a single named configuration value.
type VariableEntry struct {
	Key         string   `json:"key"`
	Value       string   `json:"value"`
	IsSecret    bool     `json:"isSecret,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Snapshot is the insertion-ordered variable set for one environment at a
// point in time. The zero value is not usable; use NewSnapshot.
type Snapshot struct {
	order   []string
	entries map[string]VariableEntry

	// Version is a monotonic counter starting at 1.
	Version int
	// LastModified records the time of the last accepted mutation.
	LastModified time.Time
}

// NewSnapshot creates an empty snapshot at version 1.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		order:   make([]string, 0),
		entries: make(map[string]VariableEntry),
		Version: 1,
	}
}

// Set adds or replaces an entry. A replaced key keeps its original position;
// a new key is appended. Tags are normalized to a sorted, deduplicated set.
func (s *Snapshot) Set(entry VariableEntry) {
	if len(entry.Tags) > 0 {
		tags := slices.Clone(entry.Tags)
		slices.Sort(tags)
		entry.Tags = slices.Compact(tags)
	}
	if _, ok := s.entries[entry.Key]; !ok {
		s.order = append(s.order, entry.Key)
	}
	s.entries[entry.Key] = entry
}

// Get returns the entry for key and whether it exists.
func (s *Snapshot) Get(key string) (VariableEntry, bool) {
	entry, ok := s.entries[key]
	return entry, ok
}

// Has reports whether key exists in the snapshot.
func (s *Snapshot) Has(key string) bool {
	_, ok := s.entries[key]
	return ok
}

// Delete removes key from the snapshot. It reports whether the key existed.
func (s *Snapshot) Delete(key string) bool {
	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	s.order = slices.DeleteFunc(s.order, func(k string) bool { return k == key })
	return true
}

// Keys returns the snapshot's keys in insertion order.
func (s *Snapshot) Keys() []string {
	return slices.Clone(s.order)
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	return len(s.order)
}

// Entries returns all entries in insertion order.
func (s *Snapshot) Entries() []VariableEntry {
	entries := make([]VariableEntry, 0, len(s.order))
	for _, key := range s.order {
		entries = append(entries, s.entries[key])
	}
	return entries
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	clone := NewSnapshot()
	clone.Version = s.Version
	clone.LastModified = s.LastModified
	for _, key := range s.order {
		clone.Set(s.entries[key])
	}
	return clone
}

// Equal reports whether two snapshots hold the same variables in the same
// order. Version and LastModified are bookkeeping and are not compared.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if other == nil || len(s.order) != len(other.order) {
		return false
	}
	for i, key := range s.order {
		if other.order[i] != key {
			return false
		}
		a, b := s.entries[key], other.entries[key]
		if a.Value != b.Value || a.IsSecret != b.IsSecret || a.Description != b.Description {
			return false
		}
		if !slices.Equal(a.Tags, b.Tags) {
			return false
		}
	}
	return true
}

type snapshotJSON struct {
	Version      int             `json:"version"`
	LastModified time.Time       `json:"lastModified"`
	Variables    []VariableEntry `json:"variables"`
}

// MarshalJSON encodes the snapshot with variables as an ordered array.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		Version:      s.Version,
		LastModified: s.LastModified,
		Variables:    s.Entries(),
	})
}

// UnmarshalJSON decodes the ordered-array form produced by MarshalJSON.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.order = make([]string, 0, len(raw.Variables))
	s.entries = make(map[string]VariableEntry, len(raw.Variables))
	s.Version = raw.Version
	s.LastModified = raw.LastModified
	for _, entry := range raw.Variables {
		s.Set(entry)
	}
	return nil
}
