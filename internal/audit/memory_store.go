package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/guillermoBallester/auditsql/internal/core/domain"
	"github.com/guillermoBallester/auditsql/internal/core/port"
)

// MemoryStore is an in-process append-only history. It is lost on restart
// and is used when no audit database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]domain.HistoryEntry
	ordered []uuid.UUID
}

var _ port.AuditStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[uuid.UUID]domain.HistoryEntry)}
}

func (s *MemoryStore) Append(_ context.Context, entry domain.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[entry.ID]; ok {
		return fmt.Errorf("history entry %s already exists", entry.ID)
	}
	entry.Audit.ColumnNames = append([]string{}, entry.Audit.ColumnNames...)
	s.byID[entry.ID] = entry
	s.ordered = append(s.ordered, entry.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("history entry %s: %w", id, domain.ErrNotFound)
	}
	return &entry, nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.ordered) {
		limit = len(s.ordered)
	}
	out := make([]domain.HistoryEntry, 0, limit)
	for i := len(s.ordered) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.byID[s.ordered[i]])
	}
	return out, nil
}

func (s *MemoryStore) AttachReference(_ context.Context, id uuid.UUID, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("history entry %s: %w", id, domain.ErrNotFound)
	}
	if entry.Audit.PublishedReference != "" {
		return fmt.Errorf("history entry %s: %w", id, domain.ErrReferenceSet)
	}
	entry.Audit.PublishedReference = reference
	s.byID[id] = entry
	return nil
}
