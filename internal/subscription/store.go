package subscription

import (
	"context"
	"sort"
	"sync"

	"inkpass/internal/apperrors"

	"github.com/google/uuid"
)

// Store persists holdings. Every write is conditional on the version the
// caller read, so a lost update surfaces as CONCURRENCY_CONFLICT.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*Holding, error)
	ListByOwner(ctx context.Context, owner string) ([]*Holding, error)
	Insert(ctx context.Context, h *Holding) error
	Update(ctx context.Context, h *Holding, expectedVersion int) error
	// Replace retires oldID and inserts h as one atomic step.
	Replace(ctx context.Context, oldID uuid.UUID, expectedVersion int, h *Holding) error
}

type memoryStore struct {
	mu       sync.RWMutex
	holdings map[uuid.UUID]*Holding
}

// NewMemoryStore returns a Store kept entirely in process memory.
func NewMemoryStore() Store {
	return &memoryStore{holdings: make(map[uuid.UUID]*Holding)}
}

func (s *memoryStore) Get(ctx context.Context, id uuid.UUID) (*Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[id]
	if !ok {
		return nil, apperrors.ErrNotFound.WithDetails("subscription %s", id)
	}
	return h.clone(), nil
}

func (s *memoryStore) ListByOwner(ctx context.Context, owner string) ([]*Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Holding
	for _, h := range s.holdings {
		if h.Owner == owner {
			out = append(out, h.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubscribedAt.Before(out[j].SubscribedAt)
	})
	return out, nil
}

func (s *memoryStore) Insert(ctx context.Context, h *Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.holdings[h.ID]; exists {
		return apperrors.ErrConcurrencyConflict.WithDetails("subscription %s already exists", h.ID)
	}
	s.holdings[h.ID] = h.clone()
	return nil
}

func (s *memoryStore) Update(ctx context.Context, h *Holding, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersion(h.ID, expectedVersion); err != nil {
		return err
	}
	s.holdings[h.ID] = h.clone()
	return nil
}

func (s *memoryStore) Replace(ctx context.Context, oldID uuid.UUID, expectedVersion int, h *Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersion(oldID, expectedVersion); err != nil {
		return err
	}
	if _, exists := s.holdings[h.ID]; exists {
		return apperrors.ErrConcurrencyConflict.WithDetails("subscription %s already exists", h.ID)
	}
	delete(s.holdings, oldID)
	s.holdings[h.ID] = h.clone()
	return nil
}

func (s *memoryStore) checkVersion(id uuid.UUID, expectedVersion int) error {
	current, ok := s.holdings[id]
	if !ok {
		return apperrors.ErrNotFound.WithDetails("subscription %s", id)
	}
	if current.Version != expectedVersion {
		return apperrors.ErrConcurrencyConflict.WithDetails("subscription %s at version %d, expected %d", id, current.Version, expectedVersion)
	}
	return nil
}
