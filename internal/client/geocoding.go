package client

import (
	"context"
	"net/url"
	"strings"

	"github.com/kjstillabower/weather-records-service/internal/apperror"
	"github.com/kjstillabower/weather-records-service/internal/models"
)

// GeocodingClient resolves cities through the provider's direct geocoding endpoint.
type GeocodingClient struct {
	upstream *Upstream
	geoURL   string
}

// NewGeocodingClient creates a resolver calling geoURL (e.g. https://api.openweathermap.org/geo/1.0/direct).
func NewGeocodingClient(upstream *Upstream, geoURL string) *GeocodingClient {
	return &GeocodingClient{upstream: upstream, geoURL: geoURL}
}

type geocodingResult struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
}

// Resolve returns the first match for "city,country". No match is a NotFoundError.
func (c *GeocodingClient) Resolve(ctx context.Context, cityName, country string) (models.Coordinates, error) {
	params := url.Values{}
	params.Set("q", strings.TrimSpace(cityName)+","+strings.TrimSpace(country))
	params.Set("limit", "1")

	var results []geocodingResult
	if err := c.upstream.getJSON(ctx, "geocode", c.geoURL, params, &results); err != nil {
		return models.Coordinates{}, err
	}
	if len(results) == 0 {
		return models.Coordinates{}, apperror.NotFound("city not found")
	}
	return models.Coordinates{Lat: results[0].Lat, Lon: results[0].Lon}, nil
}
