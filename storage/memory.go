package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"locstore/pkg/model"
)

// MemoryStore keeps location metadata in a guarded map. It satisfies the
// same contract as the networked backends and exists for isolated testing
// and for serving as the authoritative store in distributed-only mode.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[model.ContentHash]*memoryEntry
}

type memoryEntry struct {
	size      int64
	locations map[model.MachineLocation]time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[model.ContentHash]*memoryEntry)}
}

func (s *MemoryStore) GetBulk(ctx context.Context, hashes []model.ContentHash) ([]model.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Entry, 0, len(hashes))
	for _, hash := range hashes {
		entry := model.Entry{Hash: hash}
		if e, ok := s.entries[hash]; ok {
			entry.Size = e.size
			for loc, seen := range e.locations {
				entry.Locations = append(entry.Locations, loc)
				if seen.After(entry.LastAccess) {
					entry.LastAccess = seen
				}
			}
			sort.Slice(entry.Locations, func(i, j int) bool { return entry.Locations[i] < entry.Locations[j] })
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *MemoryStore) Register(ctx context.Context, machine model.MachineLocation, entries []model.Entry) error {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		e := s.ensureLocked(entry.Hash)
		if entry.Size > 0 {
			e.size = entry.Size
		}
		e.locations[machine] = now
		for _, loc := range entry.Locations {
			e.locations[loc] = now
		}
	}
	return nil
}

func (s *MemoryStore) Touch(ctx context.Context, machine model.MachineLocation, hashes []model.ContentHash) error {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, hash := range hashes {
		s.ensureLocked(hash).locations[machine] = now
	}
	return nil
}

func (s *MemoryStore) Unregister(ctx context.Context, hashes []model.ContentHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, hash := range hashes {
		delete(s.entries, hash)
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) ensureLocked(hash model.ContentHash) *memoryEntry {
	e, ok := s.entries[hash]
	if !ok {
		e = &memoryEntry{locations: make(map[model.MachineLocation]time.Time)}
		s.entries[hash] = e
	}
	return e
}
