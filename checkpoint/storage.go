package checkpoint

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound reports that no checkpoint exists for the requested run.
var ErrNotFound = errors.New("checkpoint: not found")

// Storage persists checkpoints between runs, keyed by the agent's run
// lineage id. Implementations must be safe for concurrent use.
type Storage interface {
	// Save appends a checkpoint for the lineage.
	Save(ctx context.Context, lineageID string, cp *Checkpoint) error
	// Latest returns the most recently saved checkpoint, or ErrNotFound.
	Latest(ctx context.Context, lineageID string) (*Checkpoint, error)
	// List returns all checkpoints for the lineage in save order.
	List(ctx context.Context, lineageID string) ([]*Checkpoint, error)
	// Clear removes all checkpoints for the lineage.
	Clear(ctx context.Context, lineageID string) error
}

// InMemoryStorage is a volatile Storage implementation holding checkpoints
// in a process-local map. It is safe for concurrent access and best suited
// for tests or ephemeral setups. Checkpoints are returned by reference; the
// engine treats them as immutable after capture.
type InMemoryStorage struct {
	mu          sync.RWMutex
	checkpoints map[string][]*Checkpoint
}

// NewInMemoryStorage constructs an empty in-memory checkpoint storage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{checkpoints: make(map[string][]*Checkpoint)}
}

// Save implements Storage.
func (s *InMemoryStorage) Save(_ context.Context, lineageID string, cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[lineageID] = append(s.checkpoints[lineageID], cp)
	return nil
}

// Latest implements Storage.
func (s *InMemoryStorage) Latest(_ context.Context, lineageID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cps := s.checkpoints[lineageID]
	if len(cps) == 0 {
		return nil, ErrNotFound
	}
	return cps[len(cps)-1], nil
}

// List implements Storage.
func (s *InMemoryStorage) List(_ context.Context, lineageID string) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cps := s.checkpoints[lineageID]
	out := make([]*Checkpoint, len(cps))
	copy(out, cps)
	return out, nil
}

// Clear implements Storage.
func (s *InMemoryStorage) Clear(_ context.Context, lineageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, lineageID)
	return nil
}
