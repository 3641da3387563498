package controller

import (
	"sync"

	"github.com/tradeforge/execore/pkg/models"
)

// MemoryStore keeps instances in memory only. It is the default store for
// simulated strategies and tests; durable stores live outside the core.
type MemoryStore struct {
	mu        sync.Mutex
	instances map[int]*models.InstanceController
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{instances: make(map[int]*models.InstanceController)}
}

func (s *MemoryStore) LoadInstances() ([]*models.InstanceController, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.InstanceController, 0, len(s.instances))
	for _, instance := range s.instances {
		out = append(out, instance)
	}
	return out, nil
}

func (s *MemoryStore) SaveInstance(instance *models.InstanceController) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[instance.ID] = instance
	return nil
}

func (s *MemoryStore) DeleteInstance(instance *models.InstanceController) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, instance.ID)
	return nil
}
