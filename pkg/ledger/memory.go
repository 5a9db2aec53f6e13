package ledger

import (
	"fmt"
	"sync"

	"github.com/zen-systems/pipewarden/pkg/schema"
)

// MemoryStore keeps entries in process memory. Used by tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []schema.AuditEntry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(entry schema.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.entries); n > 0 && entry.SequenceNumber != s.entries[n-1].SequenceNumber+1 {
		return fmt.Errorf("non-contiguous sequence number %d", entry.SequenceNumber)
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryStore) Last() (schema.AuditEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return schema.AuditEntry{}, false, nil
	}
	return s.entries[len(s.entries)-1], true, nil
}

func (s *MemoryStore) Len() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.entries)), nil
}

func (s *MemoryStore) ByCorrelation(correlationID string) ([]schema.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []schema.AuditEntry
	for _, entry := range s.entries {
		if entry.CorrelationID == correlationID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *MemoryStore) Range(from, to uint64) ([]schema.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []schema.AuditEntry
	for _, entry := range s.entries {
		if entry.SequenceNumber >= from && entry.SequenceNumber <= to {
			out = append(out, entry)
		}
	}
	return out, nil
}
