// Package store owns the set of live chunk records. Workers insert state
// through the owner loop's handoff while the owner iterates snapshots, so
// the map is mutex-guarded; iteration sees a snapshot-consistent view.
package store

import (
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"terracast.dev/internal/terrain/chunk"
)

type Store struct {
	mu     sync.RWMutex
	chunks map[chunk.Key]*chunk.Chunk
}

func New() *Store {
	return &Store{chunks: map[chunk.Key]*chunk.Chunk{}}
}

// Ensure inserts a chunk record for key if absent and reports whether it was
// created. Calling it again with the same key is a no-op returning the
// existing record.
func (s *Store) Ensure(key chunk.Key, origin mgl32.Vec3, size float32) (*chunk.Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chunks[key]; ok {
		return c, false
	}
	c := chunk.New(key, origin, size)
	s.chunks[key] = c
	return c, true
}

func (s *Store) Get(key chunk.Key) (*chunk.Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[key]
	return c, ok
}

// Remove deletes the record for key and returns it, or nil if absent.
func (s *Store) Remove(key chunk.Key) *chunk.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chunks[key]
	delete(s.chunks, key)
	return c
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Snapshot returns the current records as a new slice. The slice is the
// caller's; the chunks remain shared.
func (s *Store) Snapshot() []*chunk.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*chunk.Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		out = append(out, c)
	}
	return out
}

// Keys returns all keys in deterministic order, mainly for diagnostics and
// tests.
func (s *Store) Keys() []chunk.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]chunk.Key, 0, len(s.chunks))
	for k := range s.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].GridX != keys[j].GridX {
			return keys[i].GridX < keys[j].GridX
		}
		if keys[i].GridZ != keys[j].GridZ {
			return keys[i].GridZ < keys[j].GridZ
		}
		return keys[i].LOD < keys[j].LOD
	})
	return keys
}
