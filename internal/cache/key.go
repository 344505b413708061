package cache

import "strings"

const (
	keyPrefix = "weather:"
	// noCountry marks an identity without a country. The location validator
	// never accepts "_", so no explicit country can produce it.
	noCountry = "_"
)

// BuildKey returns the hot-cache key for a (city, country) identity.
// City and country are trimmed and lower-cased. An empty country maps to a
// sentinel that no explicit country shares; explicit countries starting with
// the sentinel are escaped so the mapping stays one-to-one for callers that
// skip validation.
func BuildKey(city, country string) string {
	city = strings.ToLower(strings.TrimSpace(city))
	country = strings.ToLower(strings.TrimSpace(country))
	switch {
	case country == "":
		country = noCountry
	case strings.HasPrefix(country, noCountry):
		country = noCountry + country
	}
	return keyPrefix + city + ":" + country
}
