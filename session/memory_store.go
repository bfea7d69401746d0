package session

import (
	"context"
	"sync"
)

// MemoryStore 进程内快照存储
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]*Snapshot
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]*Snapshot)}
}

func (s *MemoryStore) Save(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.snaps[snap.ID]; ok && current.Version >= snap.Version {
		return ErrVersionConflict
	}
	s.snaps[snap.ID] = cloneSnapshot(snap)
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snaps[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSnapshot(snap), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.snaps, id)
	s.mu.Unlock()
	return nil
}

// Len 返回已存储的快照数.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snaps)
}
