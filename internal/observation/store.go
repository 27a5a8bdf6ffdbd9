// Package observation holds the latest fetched value of every tracked entity.
package observation

import (
	"sort"
	"strings"
	"sync"

	"stockalert/internal/models"
)

// Store caches observations per kind. A kind's set is only ever replaced as
// a whole; there is no partial update.
type Store struct {
	mu   sync.RWMutex
	sets map[models.Kind]map[string]models.Observation
}

// NewStore creates an empty observation store.
func NewStore() *Store {
	return &Store{
		sets: make(map[models.Kind]map[string]models.Observation),
	}
}

// ReplaceAll overwrites every observation of the given kind. Observations
// whose key belongs to another kind are ignored.
func (s *Store) ReplaceAll(kind models.Kind, observations []models.Observation) {
	set := make(map[string]models.Observation, len(observations))
	for _, o := range observations {
		if o.Key.Kind != kind {
			continue
		}
		set[o.Key.ID] = o
	}

	s.mu.Lock()
	s.sets[kind] = set
	s.mu.Unlock()
}

// Get returns the latest observation for key.
func (s *Store) Get(key models.EntityKey) (models.Observation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.sets[key.Kind][key.ID]
	return o, ok
}

// Has reports whether the kind has been fetched successfully at least once.
func (s *Store) Has(kind models.Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sets[kind]
	return ok
}

// Snapshot returns a copy of the kind's observations sorted by ID.
func (s *Store) Snapshot(kind models.Kind) []models.Observation {
	s.mu.RLock()
	set := s.sets[kind]
	out := make([]models.Observation, 0, len(set))
	for _, o := range set {
		out = append(out, o)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.ID < out[j].Key.ID })
	return out
}

// Len returns the number of observations held for kind.
func (s *Store) Len(kind models.Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sets[kind])
}

// Search returns observations of kind whose ID or name contains query,
// ignoring case. An empty query matches everything.
func (s *Store) Search(kind models.Kind, query string) []models.Observation {
	q := strings.ToLower(strings.TrimSpace(query))
	all := s.Snapshot(kind)
	if q == "" {
		return all
	}

	var out []models.Observation
	for _, o := range all {
		if strings.Contains(strings.ToLower(o.Key.ID), q) ||
			strings.Contains(strings.ToLower(o.Name), q) {
			out = append(out, o)
		}
	}
	return out
}
