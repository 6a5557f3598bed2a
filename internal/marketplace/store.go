package marketplace

import (
	"context"
	"sort"
	"sync"

	"inkpass/internal/apperrors"

	"github.com/google/uuid"
)

// Store persists kiosks. Save is conditional on the version the caller read,
// so a lost update surfaces as CONCURRENCY_CONFLICT.
type Store interface {
	Insert(ctx context.Context, k *Record) error
	Get(ctx context.Context, id uuid.UUID) (*Record, error)
	Save(ctx context.Context, k *Record, expectedVersion int) error
	// List returns every kiosk, oldest first.
	List(ctx context.Context) ([]*Record, error)
}

type memoryStore struct {
	mu     sync.RWMutex
	kiosks map[uuid.UUID]*Record
	order  []uuid.UUID
}

// NewMemoryStore returns a Store kept entirely in process memory.
func NewMemoryStore() Store {
	return &memoryStore{kiosks: make(map[uuid.UUID]*Record)}
}

func (s *memoryStore) Insert(ctx context.Context, k *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.kiosks[k.ID]; exists {
		return apperrors.ErrConcurrencyConflict.WithDetails("kiosk %s already exists", k.ID)
	}
	s.kiosks[k.ID] = k.clone()
	s.order = append(s.order, k.ID)
	return nil
}

func (s *memoryStore) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.kiosks[id]
	if !ok {
		return nil, apperrors.ErrNotFound.WithDetails("kiosk %s", id)
	}
	return k.clone(), nil
}

func (s *memoryStore) Save(ctx context.Context, k *Record, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.kiosks[k.ID]
	if !ok {
		return apperrors.ErrNotFound.WithDetails("kiosk %s", k.ID)
	}
	if current.Version != expectedVersion {
		return apperrors.ErrConcurrencyConflict.WithDetails("kiosk %s at version %d, expected %d", k.ID, current.Version, expectedVersion)
	}
	s.kiosks[k.ID] = k.clone()
	return nil
}

func (s *memoryStore) List(ctx context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.kiosks[id].clone())
	}
	return out, nil
}

// sortedItems returns the items of k in a stable order.
func sortedItems(k *Record) []Item {
	items := make([]Item, 0, len(k.Items))
	for _, it := range k.Items {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].SubscriptionID.String() < items[j].SubscriptionID.String()
	})
	return items
}
