package storage

import (
	"context"
	"sync"

	"github.com/eleven-am/researchflow/internal/domain"
)

// MemoryStore keeps encoded flows in a map. Values are stored encoded so
// callers never share memory with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	flows map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flows: make(map[string][]byte)}
}

func (s *MemoryStore) Create(ctx context.Context, flow *domain.Flow) error {
	data, err := encodeFlow(flow)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[flow.ID]; ok {
		return flowExists(flow.ID)
	}
	s.flows[flow.ID] = data
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, flowID string) (*domain.Flow, error) {
	s.mu.RLock()
	data, ok := s.flows[flowID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.NewNotFoundError("flow", flowID)
	}
	return decodeFlow(data)
}

func (s *MemoryStore) List(ctx context.Context) ([]*domain.Flow, error) {
	s.mu.RLock()
	flows := make([]*domain.Flow, 0, len(s.flows))
	for _, data := range s.flows {
		flow, err := decodeFlow(data)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		flows = append(flows, flow)
	}
	s.mu.RUnlock()

	sortNewestFirst(flows)
	return flows, nil
}

func (s *MemoryStore) Update(ctx context.Context, flow *domain.Flow) error {
	data, err := encodeFlow(flow)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[flow.ID]; !ok {
		return domain.NewNotFoundError("flow", flow.ID)
	}
	s.flows[flow.ID] = data
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[flowID]; !ok {
		return domain.NewNotFoundError("flow", flowID)
	}
	delete(s.flows, flowID)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
