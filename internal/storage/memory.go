package storage

import (
	"context"
	"sync"

	"github.com/xaenox/riskwatch/internal/models"
)

type MemoryStorage struct {
	mu         sync.RWMutex
	identities map[string]models.UserIdentity
}

func NewMemoryStorage(seed map[string]models.UserIdentity) *MemoryStorage {
	identities := make(map[string]models.UserIdentity, len(seed))
	for key, identity := range seed {
		identities[key] = identity
	}
	return &MemoryStorage{identities: identities}
}

func (s *MemoryStorage) Lookup(ctx context.Context, sessionKey string) (models.UserIdentity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, exists := s.identities[sessionKey]
	return identity, exists, nil
}

// Put binds an identity to a session key, replacing any previous binding.
func (s *MemoryStorage) Put(sessionKey string, identity models.UserIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.identities[sessionKey] = identity
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
