package client

import (
	"context"
	"net/url"
	"strconv"

	"github.com/kjstillabower/weather-records-service/internal/models"
)

func coordParams(coords models.Coordinates) url.Values {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(coords.Lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(coords.Lon, 'f', -1, 64))
	params.Set("units", "metric")
	return params
}

type conditionPayload struct {
	Description string `json:"description"`
}

func firstDescription(conds []conditionPayload) string {
	if len(conds) == 0 {
		return ""
	}
	return conds[0].Description
}

// CurrentWeatherClient fetches from the current weather endpoint (/data/2.5/weather).
type CurrentWeatherClient struct {
	upstream *Upstream
	apiURL   string
}

func NewCurrentWeatherClient(upstream *Upstream, apiURL string) *CurrentWeatherClient {
	return &CurrentWeatherClient{upstream: upstream, apiURL: apiURL}
}

type currentWeatherResponse struct {
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Weather []conditionPayload `json:"weather"`
	Wind    struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

// Fetch implements WeatherFetcher.
func (c *CurrentWeatherClient) Fetch(ctx context.Context, coords models.Coordinates) (models.Observation, error) {
	var resp currentWeatherResponse
	if err := c.upstream.getJSON(ctx, "weather", c.apiURL, coordParams(coords), &resp); err != nil {
		return models.Observation{}, err
	}
	return models.Observation{
		Temperature: resp.Main.Temp,
		Description: firstDescription(resp.Weather),
		Humidity:    resp.Main.Humidity,
		WindSpeed:   resp.Wind.Speed,
	}, nil
}

// OneCallClient fetches from the One Call endpoint (/data/3.0/onecall), current block only.
type OneCallClient struct {
	upstream *Upstream
	apiURL   string
}

func NewOneCallClient(upstream *Upstream, apiURL string) *OneCallClient {
	return &OneCallClient{upstream: upstream, apiURL: apiURL}
}

type oneCallResponse struct {
	Current struct {
		Temp      float64            `json:"temp"`
		Humidity  int                `json:"humidity"`
		WindSpeed float64            `json:"wind_speed"`
		Weather   []conditionPayload `json:"weather"`
	} `json:"current"`
}

// Fetch implements WeatherFetcher.
func (c *OneCallClient) Fetch(ctx context.Context, coords models.Coordinates) (models.Observation, error) {
	params := coordParams(coords)
	params.Set("exclude", "minutely,hourly,daily,alerts")

	var resp oneCallResponse
	if err := c.upstream.getJSON(ctx, "weather", c.apiURL, params, &resp); err != nil {
		return models.Observation{}, err
	}
	return models.Observation{
		Temperature: resp.Current.Temp,
		Description: firstDescription(resp.Current.Weather),
		Humidity:    resp.Current.Humidity,
		WindSpeed:   resp.Current.WindSpeed,
	}, nil
}
