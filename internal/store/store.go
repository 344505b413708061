// Package store holds the durable tier: an append-only log of weather
// observations queried by identity and age.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kjstillabower/city-weather-service/internal/models"
)

// ErrStoreFault wraps every failure of the backing database. Callers use
// errors.Is(err, ErrStoreFault) to tell infrastructure faults from misses.
var ErrStoreFault = errors.New("store fault")

// Store is the durable freshness tier. Observations are appended, never updated.
type Store interface {
	// FindLatest returns the newest observation for (city, country) whose
	// ObservedAt is at or after notOlderThan. ok is false when none qualifies.
	FindLatest(ctx context.Context, city, country string, notOlderThan time.Time) (obs models.Observation, ok bool, err error)
	// Insert appends obs, stamping ObservedAt with the store clock, and returns
	// the stored form.
	Insert(ctx context.Context, obs models.Observation) (models.Observation, error)
	// List returns stored observations newest first.
	List(ctx context.Context, filter ListFilter) ([]models.Observation, error)
}

// ListFilter narrows List. Empty City matches every city; Country is only
// applied when HasCountry is set, so the empty country can be selected.
type ListFilter struct {
	City       string
	Country    string
	HasCountry bool
	Limit      int
	Offset     int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (f ListFilter) normalized() ListFilter {
	f.City, f.Country = models.NormalizeIdentity(f.City, f.Country)
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Clock returns the current time. Stores stamp observations with it.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
