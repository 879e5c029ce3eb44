package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ledren/cadent/pkg/schema"
)

// MemoryStore is an in-memory RunStore for tests and embedded hosts.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*schema.WorkflowState
	events  map[string][]*Event
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*schema.WorkflowState),
		events:  make(map[string][]*Event),
	}
}

func (s *MemoryStore) ReadRecord(_ context.Context, runID string) (*schema.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.records[runID]
	if !ok {
		return nil, nil
	}
	return st.Clone(), nil
}

func (s *MemoryStore) WriteRecord(_ context.Context, runID string, st *schema.WorkflowState) error {
	if runID == "" {
		return schema.NewError(schema.ErrCodeStore, "empty run id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[runID] = st.Clone()
	return nil
}

func (s *MemoryStore) DeleteRecord(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, runID)
	delete(s.events, runID)
	return nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.Sequence = int64(len(s.events[event.RunID])) + 1
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	cp := *event
	s.events[event.RunID] = append(s.events[event.RunID], &cp)
	return nil
}

func (s *MemoryStore) GetEvents(_ context.Context, runID string, since int64) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for _, e := range s.events[runID] {
		if e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
