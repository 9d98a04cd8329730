package models

import "time"

// Weather is one stored observation for a city. ID, CreatedAt and UpdatedAt are managed
// by the record store; FetchedAt is set once when the observation is taken upstream.
type Weather struct {
	ID          string    `json:"id"`
	CityName    string    `json:"cityName"`
	Country     string    `json:"country"`
	Temperature float64   `json:"temperature"`
	Description string    `json:"description"`
	Humidity    int       `json:"humidity"`
	WindSpeed   float64   `json:"windSpeed"`
	FetchedAt   time.Time `json:"fetchedAt"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// WeatherUpdate carries a partial update. Nil fields keep their stored value.
type WeatherUpdate struct {
	Temperature *float64 `json:"temperature,omitempty"`
	Description *string  `json:"description,omitempty"`
	Humidity    *int     `json:"humidity,omitempty"`
	WindSpeed   *float64 `json:"windSpeed,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u WeatherUpdate) IsEmpty() bool {
	return u.Temperature == nil && u.Description == nil && u.Humidity == nil && u.WindSpeed == nil
}

// Apply returns w with the non-nil fields of u applied.
func (u WeatherUpdate) Apply(w Weather) Weather {
	if u.Temperature != nil {
		w.Temperature = *u.Temperature
	}
	if u.Description != nil {
		w.Description = *u.Description
	}
	if u.Humidity != nil {
		w.Humidity = *u.Humidity
	}
	if u.WindSpeed != nil {
		w.WindSpeed = *u.WindSpeed
	}
	return w
}

// Coordinates is a resolved geographic position.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Observation is the provider-independent payload returned by an upstream fetch.
type Observation struct {
	Temperature float64
	Description string
	Humidity    int
	WindSpeed   float64
}

// NewWeather builds an unsaved record from an observation. Timestamps are UTC and
// truncated to microseconds, the resolution of the relational store.
func NewWeather(cityName, country string, obs Observation, fetchedAt time.Time) Weather {
	return Weather{
		CityName:    cityName,
		Country:     country,
		Temperature: obs.Temperature,
		Description: obs.Description,
		Humidity:    obs.Humidity,
		WindSpeed:   obs.WindSpeed,
		FetchedAt:   fetchedAt.UTC().Truncate(time.Microsecond),
	}
}
