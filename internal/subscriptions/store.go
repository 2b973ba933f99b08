package subscriptions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Store is the persistence boundary for subscriptions, keyed
// "subscriptions:<partition>:<uuid>" per spec.md §6. The concrete backing
// store (etcd, a KV service, ...) is an external collaborator out of
// scope for this module; only the interface and an in-memory
// implementation (for tests and single-process deployments) live here.
type Store interface {
	Create(ctx context.Context, partition int32, sub Subscription) error
	Delete(ctx context.Context, partition int32, id uuid.UUID) error
	List(ctx context.Context, partition int32) ([]Subscription, error)
}

// Key formats the persisted key for a subscription per spec.md §6.
func Key(partition int32, id uuid.UUID) string {
	return fmt.Sprintf("subscriptions:%d:%s", partition, id)
}

// MemoryStore is an in-memory Store, sufficient for a single-process
// deployment and for tests; it is not durable across restarts.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[int32]map[uuid.UUID]Subscription
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[int32]map[uuid.UUID]Subscription)}
}

func (s *MemoryStore) Create(ctx context.Context, partition int32, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[partition] == nil {
		s.data[partition] = make(map[uuid.UUID]Subscription)
	}
	s.data[partition][sub.ID] = sub
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, partition int32, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[partition], id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, partition int32) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Subscription, 0, len(s.data[partition]))
	for _, sub := range s.data[partition] {
		out = append(out, sub)
	}
	return out, nil
}
