package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjstillabower/weather-records-service/internal/models"
)

const weatherSchema = `
CREATE TABLE IF NOT EXISTS weather (
	id          UUID PRIMARY KEY,
	city_name   TEXT NOT NULL,
	country     TEXT NOT NULL,
	temperature DOUBLE PRECISION NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	humidity    INTEGER NOT NULL,
	wind_speed  DOUBLE PRECISION NOT NULL,
	fetched_at  TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS weather_city_fetched_idx ON weather (city_name, fetched_at DESC);
`

const weatherColumns = `id::text, city_name, country, temperature, description, humidity,
	wind_speed, fetched_at, created_at, updated_at`

// NewPool opens a pgx pool for databaseURL and verifies connectivity.
// maxConns of zero keeps the pgx default.
func NewPool(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// PostgresStore implements RecordStore on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the weather table and its city index if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, weatherSchema); err != nil {
		return fmt.Errorf("create weather schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity. Used for health checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Create(ctx context.Context, w models.Weather) (models.Weather, error) {
	now := utcNow()
	w.ID = uuid.NewString()
	w.CreatedAt = now
	w.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO weather (id, city_name, country, temperature, description, humidity,
			wind_speed, fetched_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.ID, w.CityName, w.Country, w.Temperature, w.Description, w.Humidity,
		w.WindSpeed, w.FetchedAt, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return models.Weather{}, fmt.Errorf("insert weather: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) FindAll(ctx context.Context) ([]models.Weather, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+weatherColumns+` FROM weather ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query weather: %w", err)
	}
	defer rows.Close()

	out := []models.Weather{}
	for rows.Next() {
		w, err := scanWeather(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate weather: %w", err)
	}
	return out, nil
}

// FindByID treats an id that is not a UUID as absent.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (models.Weather, bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Weather{}, false, nil
	}
	row := s.pool.QueryRow(ctx, `SELECT `+weatherColumns+` FROM weather WHERE id = $1`, id)
	return scanOne(row)
}

func (s *PostgresStore) Update(ctx context.Context, id string, u models.WeatherUpdate) error {
	if u.IsEmpty() {
		return nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE weather SET
			temperature = COALESCE($2, temperature),
			description = COALESCE($3, description),
			humidity    = COALESCE($4, humidity),
			wind_speed  = COALESCE($5, wind_speed),
			updated_at  = $6
		WHERE id = $1`,
		id, u.Temperature, u.Description, u.Humidity, u.WindSpeed, utcNow(),
	)
	if err != nil {
		return fmt.Errorf("update weather: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM weather WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete weather: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindLatestByCity(ctx context.Context, cityName string) (models.Weather, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+weatherColumns+` FROM weather
		WHERE city_name = $1
		ORDER BY fetched_at DESC, created_at DESC
		LIMIT 1`, cityName)
	return scanOne(row)
}

func scanOne(row pgx.Row) (models.Weather, bool, error) {
	w, err := scanWeather(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Weather{}, false, nil
	}
	if err != nil {
		return models.Weather{}, false, err
	}
	return w, true, nil
}

func scanWeather(row pgx.Row) (models.Weather, error) {
	var w models.Weather
	err := row.Scan(&w.ID, &w.CityName, &w.Country, &w.Temperature, &w.Description,
		&w.Humidity, &w.WindSpeed, &w.FetchedAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Weather{}, err
		}
		return models.Weather{}, fmt.Errorf("scan weather: %w", err)
	}
	w.FetchedAt = w.FetchedAt.UTC()
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}
