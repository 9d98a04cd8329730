// Package store persists weather records. It is the system of record; the cache in
// front of it is advisory.
package store

import (
	"context"
	"time"

	"github.com/kjstillabower/weather-records-service/internal/models"
)

// RecordStore is the durable CRUD surface for weather records.
// Absence is reported through the bool result, never as an error.
type RecordStore interface {
	// Create assigns ID, CreatedAt and UpdatedAt and returns the saved record.
	Create(ctx context.Context, w models.Weather) (models.Weather, error)
	FindAll(ctx context.Context) ([]models.Weather, error)
	FindByID(ctx context.Context, id string) (models.Weather, bool, error)
	// Update applies the non-nil fields of u. Updating a missing id is a no-op.
	Update(ctx context.Context, id string, u models.WeatherUpdate) error
	// Delete removes id. Deleting a missing id is a no-op.
	Delete(ctx context.Context, id string) error
	// FindLatestByCity returns the record for cityName with the greatest FetchedAt.
	FindLatestByCity(ctx context.Context, cityName string) (models.Weather, bool, error)
}

func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
