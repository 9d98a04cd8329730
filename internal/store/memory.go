package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kjstillabower/weather-records-service/internal/models"
)

// MemoryStore implements RecordStore in process. Used for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.Weather
	order   []string
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]models.Weather),
		now:     utcNow,
	}
}

func (s *MemoryStore) Create(ctx context.Context, w models.Weather) (models.Weather, error) {
	if err := ctx.Err(); err != nil {
		return models.Weather{}, err
	}
	now := s.now()
	w.ID = uuid.NewString()
	w.CreatedAt = now
	w.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[w.ID] = w
	s.order = append(s.order, w.ID)
	return w, nil
}

// FindAll returns records in insertion order.
func (s *MemoryStore) FindAll(ctx context.Context) ([]models.Weather, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Weather, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out, nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (models.Weather, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Weather{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.records[id]
	return w, ok, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, u models.WeatherUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if u.IsEmpty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.records[id]
	if !ok {
		return nil
	}
	w = u.Apply(w)
	w.UpdatedAt = s.now()
	s.records[id] = w
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return nil
	}
	delete(s.records, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// FindLatestByCity breaks FetchedAt ties in favor of the later insert.
func (s *MemoryStore) FindLatestByCity(ctx context.Context, cityName string) (models.Weather, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Weather{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest models.Weather
		found  bool
	)
	for _, id := range s.order {
		w := s.records[id]
		if w.CityName != cityName {
			continue
		}
		if !found || !w.FetchedAt.Before(latest.FetchedAt) {
			latest, found = w, true
		}
	}
	return latest, found, nil
}
