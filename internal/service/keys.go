package service

import "time"

// CacheTTL applies to every weather cache entry.
const CacheTTL = 300 * time.Second

// AllKey caches the full record list.
const AllKey = "weather:all"

// CityKey caches the most recent fetch for a city and country.
func CityKey(cityName, country string) string {
	return "weather:" + cityName + ":" + country
}

// LatestKey caches the latest record for a city.
func LatestKey(cityName string) string {
	return "weather:latest:" + cityName
}

// IDKey caches a single record.
func IDKey(id string) string {
	return "weather:id:" + id
}
