package http

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kjstillabower/weather-records-service/internal/models"
)

// fakeWeather is a hand-written WeatherRecords that records the arguments it was called with.
type fakeWeather struct {
	mu sync.Mutex

	record  models.Weather
	records []models.Weather
	err     error
	block   bool // when set, calls wait for ctx.Done()

	gotCity    string
	gotCountry string
	gotID      string
	gotUpdate  models.WeatherUpdate
	calls      int
}

func (f *fakeWeather) call(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *fakeWeather) FetchAndStore(ctx context.Context, cityName, country string) (models.Weather, error) {
	f.mu.Lock()
	f.gotCity, f.gotCountry = cityName, country
	f.mu.Unlock()
	if err := f.call(ctx); err != nil {
		return models.Weather{}, err
	}
	return f.record, nil
}

func (f *fakeWeather) GetAll(ctx context.Context) ([]models.Weather, error) {
	if err := f.call(ctx); err != nil {
		return nil, err
	}
	return f.records, nil
}

func (f *fakeWeather) GetByID(ctx context.Context, id string) (models.Weather, error) {
	f.mu.Lock()
	f.gotID = id
	f.mu.Unlock()
	if err := f.call(ctx); err != nil {
		return models.Weather{}, err
	}
	return f.record, nil
}

func (f *fakeWeather) GetLatest(ctx context.Context, cityName string) (models.Weather, error) {
	f.mu.Lock()
	f.gotCity = cityName
	f.mu.Unlock()
	if err := f.call(ctx); err != nil {
		return models.Weather{}, err
	}
	return f.record, nil
}

func (f *fakeWeather) Update(ctx context.Context, id string, u models.WeatherUpdate) (models.Weather, error) {
	f.mu.Lock()
	f.gotID, f.gotUpdate = id, u
	f.mu.Unlock()
	if err := f.call(ctx); err != nil {
		return models.Weather{}, err
	}
	return u.Apply(f.record), nil
}

func (f *fakeWeather) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	f.gotID = id
	f.mu.Unlock()
	return f.call(ctx)
}

func (f *fakeWeather) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAccounts struct {
	user  models.User
	token string
	err   error

	gotEmail    string
	gotPassword string
	gotID       string
}

func (f *fakeAccounts) Register(ctx context.Context, email, password string) (models.User, error) {
	f.gotEmail, f.gotPassword = email, password
	return f.user, f.err
}

func (f *fakeAccounts) Login(ctx context.Context, email, password string) (string, error) {
	f.gotEmail, f.gotPassword = email, password
	return f.token, f.err
}

func (f *fakeAccounts) Get(ctx context.Context, id string) (models.User, error) {
	f.gotID = id
	return f.user, f.err
}

// fakeVerifier accepts exactly one token.
type fakeVerifier struct {
	token  string
	userID string
}

func (f fakeVerifier) Verify(token string) (string, error) {
	if token != f.token {
		return "", errors.New("bad token")
	}
	return f.userID, nil
}

func sampleWeather() models.Weather {
	at := time.Date(2024, 3, 1, 12, 0, 0, 123456000, time.UTC)
	return models.Weather{
		ID:          "5b0c8d7e-1f2a-4c3b-9d4e-5f6a7b8c9d0e",
		CityName:    "London",
		Country:     "UK",
		Temperature: 11.5,
		Description: "light rain",
		Humidity:    81,
		WindSpeed:   4.1,
		FetchedAt:   at,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}
