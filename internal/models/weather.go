package models

import (
	"strings"
	"time"
)

// Observation is a single weather reading for a city. Identity is the
// normalized (City, Country) pair; Country may be empty.
type Observation struct {
	City        string    `json:"city"`
	Country     string    `json:"country"`
	Temperature float64   `json:"temperatureC"`
	Description string    `json:"description"`
	ObservedAt  time.Time `json:"observedAt"`
}

// Provenance names the tier that answered a lookup.
type Provenance string

const (
	ProvenanceCache    Provenance = "cache"
	ProvenanceStore    Provenance = "store"
	ProvenanceExternal Provenance = "external"
)

// NormalizeIdentity lower-cases and trims both identity components.
func NormalizeIdentity(city, country string) (string, string) {
	return strings.ToLower(strings.TrimSpace(city)), strings.ToLower(strings.TrimSpace(country))
}

// Identity is a normalized (city, country) pair.
type Identity struct {
	City    string `yaml:"city" json:"city"`
	Country string `yaml:"country" json:"country"`
}

// ParseIdentity parses "city" or "city,country" into a normalized Identity.
func ParseIdentity(s string) Identity {
	city, country, _ := strings.Cut(s, ",")
	city, country = NormalizeIdentity(city, country)
	return Identity{City: city, Country: country}
}

func (i Identity) String() string {
	if i.Country == "" {
		return i.City
	}
	return i.City + "," + i.Country
}
