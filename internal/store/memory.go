package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kjstillabower/city-weather-service/internal/models"
)

// MemoryStore is a concurrency-safe in-process Store. Data does not survive
// restarts; use it for local development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	clock Clock
	// key: normalized identity, value: observations in insertion order
	data map[models.Identity][]models.Observation
}

// NewMemoryStore creates an empty MemoryStore. A nil clock uses time.Now.
func NewMemoryStore(clock Clock) *MemoryStore {
	return &MemoryStore{
		clock: clock,
		data:  make(map[models.Identity][]models.Observation),
	}
}

// FindLatest implements Store.FindLatest.
func (s *MemoryStore) FindLatest(ctx context.Context, city, country string, notOlderThan time.Time) (models.Observation, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Observation{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best  models.Observation
		found bool
	)
	for _, obs := range s.data[models.Identity{City: city, Country: country}] {
		if obs.ObservedAt.Before(notOlderThan) {
			continue
		}
		if !found || !obs.ObservedAt.Before(best.ObservedAt) {
			best, found = obs, true
		}
	}
	return best, found, nil
}

// Insert implements Store.Insert.
func (s *MemoryStore) Insert(ctx context.Context, obs models.Observation) (models.Observation, error) {
	if err := ctx.Err(); err != nil {
		return models.Observation{}, err
	}
	obs.City, obs.Country = models.NormalizeIdentity(obs.City, obs.Country)
	obs.ObservedAt = s.clock.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	id := models.Identity{City: obs.City, Country: obs.Country}
	s.data[id] = append(s.data[id], obs)
	return obs, nil
}

// List implements Store.List.
func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]models.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f := filter.normalized()

	s.mu.RLock()
	var all []models.Observation
	for id, list := range s.data {
		if f.City != "" && id.City != f.City {
			continue
		}
		if f.HasCountry && id.Country != f.Country {
			continue
		}
		all = append(all, list...)
	}
	s.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].ObservedAt.After(all[j].ObservedAt)
	})
	if f.Offset >= len(all) {
		return []models.Observation{}, nil
	}
	all = all[f.Offset:]
	if len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
