package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/threadmesh/core"
)

// InMemoryStore is a volatile CheckpointStore keeping threads and
// checkpoints in process-local maps. It is safe for concurrent access and
// best suited for tests or ephemeral demo servers. Checkpoints are cloned
// on the way in and out so stored records can never be mutated.
type InMemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*core.Thread
	byID    map[string]*core.Checkpoint // global checkpoint id index
}

// NewInMemoryStore constructs an empty in-memory checkpoint store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		threads: make(map[string]*core.Thread),
		byID:    make(map[string]*core.Checkpoint),
	}
}

// CreateThread registers a new thread record.
func (s *InMemoryStore) CreateThread(_ context.Context, threadID, origin string) (*core.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[threadID]; ok {
		return nil, core.ErrThreadExists
	}
	t := &core.Thread{ID: threadID, Created: time.Now().UTC(), Origin: origin}
	s.threads[threadID] = t
	clone := *t
	return &clone, nil
}

// GetThread returns a copy of the thread record.
func (s *InMemoryStore) GetThread(_ context.Context, threadID string) (*core.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil, core.ErrThreadNotFound
	}
	clone := *t
	return &clone, nil
}

// RetireThread flags the thread as retired. Existing checkpoints stay
// readable.
func (s *InMemoryStore) RetireThread(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return core.ErrThreadNotFound
	}
	t.Retired = true
	return nil
}

// Put appends a checkpoint, compare-and-swapping on the thread's latest
// pointer. The caller's cp.ParentID must equal the current latest id (the
// thread's Origin, or "", for the root put) or the call fails with
// ErrStaleParent and nothing is written.
func (s *InMemoryStore) Put(_ context.Context, cp *core.Checkpoint) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[cp.ThreadID]
	if !ok {
		return "", core.ErrThreadNotFound
	}
	if t.Retired {
		return "", core.ErrThreadRetired
	}

	expected := t.LatestID
	if expected == "" {
		expected = t.Origin
	}
	if cp.ParentID != expected {
		return "", core.ErrStaleParent
	}

	stored := cp.Clone()
	if stored.ID == "" {
		stored.ID = core.NewID()
	}
	s.byID[stored.ID] = stored
	t.LatestID = stored.ID
	return stored.ID, nil
}

// Get returns a checkpoint of the thread by id or the sentinel Latest.
func (s *InMemoryStore) Get(_ context.Context, threadID, checkpointID string) (*core.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[threadID]
	if !ok {
		return nil, core.ErrThreadNotFound
	}
	if checkpointID == core.Latest {
		if t.LatestID == "" {
			return nil, core.ErrCheckpointNotFound
		}
		checkpointID = t.LatestID
	}
	cp, ok := s.byID[checkpointID]
	if !ok || cp.ThreadID != threadID {
		return nil, core.ErrCheckpointNotFound
	}
	return cp.Clone(), nil
}

// Resolve looks a checkpoint up by id alone.
func (s *InMemoryStore) Resolve(_ context.Context, checkpointID string) (*core.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.byID[checkpointID]
	if !ok {
		return nil, core.ErrCheckpointNotFound
	}
	return cp.Clone(), nil
}
