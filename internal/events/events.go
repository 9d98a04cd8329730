// Package events publishes observation notifications for downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/kjstillabower/weather-records-service/internal/models"
)

// TypeWeatherFetched is emitted after a new observation is persisted.
const TypeWeatherFetched = "weather.fetched"

// Event is the JSON payload written to the topic.
type Event struct {
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurredAt"`
	Weather    models.Weather `json:"weather"`
}

// Publisher delivers events. Delivery is best effort; callers log failures and continue.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close()
}

// NopPublisher discards events. Used when events are disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func (NopPublisher) Close() {}
