package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Location is a city tracked by the collector.
type Location struct {
	City    string `yaml:"city"`
	Country string `yaml:"country"`
}

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	OneCallURL        string
	GeoURL            string
	WeatherProvider   string // "current" or "onecall"
	WeatherAPITimeout time.Duration

	RequestTimeout time.Duration

	CacheBackend          string // "in_memory", "redis" or "memcached"
	RedisURL              string
	RedisTimeout          time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	StoreBackend  string // "memory" or "postgres"
	DatabaseURL   string
	StoreMaxConns int32

	JWTSecret string
	TokenTTL  time.Duration

	EventsEnabled bool
	EventsBrokers []string
	EventsTopic   string
	EventsTimeout time.Duration

	CollectorSchedule  string
	CollectorTimeout   time.Duration
	CollectorLocations []Location

	RateLimitRPS            int
	RateLimitBurst          int
	BreakerFailureThreshold uint32
	BreakerOpenTimeout      time.Duration

	CoalesceEnabled bool

	ShutdownTimeout time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL        string `yaml:"url"`
		OneCallURL string `yaml:"onecall_url"`
		GeoURL     string `yaml:"geo_url"`
		Provider   string `yaml:"provider"`
		Timeout    string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend string `yaml:"backend"`
		Redis   struct {
			Timeout string `yaml:"timeout"`
		} `yaml:"redis"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Store struct {
		Backend  string `yaml:"backend"`
		MaxConns int32  `yaml:"max_conns"`
	} `yaml:"store"`

	Auth struct {
		TokenTTL string `yaml:"token_ttl"`
	} `yaml:"auth"`

	Events struct {
		Enabled bool     `yaml:"enabled"`
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
		Timeout string   `yaml:"timeout"`
	} `yaml:"events"`

	Collector struct {
		Schedule  string     `yaml:"schedule"`
		Timeout   string     `yaml:"timeout"`
		Locations []Location `yaml:"locations"`
	} `yaml:"collector"`

	Reliability struct {
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
		BreakerFailureThreshold uint32 `yaml:"breaker_failure_threshold"`
		BreakerOpenTimeout      string `yaml:"breaker_open_timeout"`
	} `yaml:"reliability"`

	Coalesce struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"coalesce"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
	JWTSecret     string `yaml:"jwt_secret"`
	DatabaseURL   string `yaml:"database_url"`
	RedisURL      string `yaml:"redis_url"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// A .env file in the working directory, if present, is loaded into the environment first;
// it never overrides variables that are already set. Secrets come from env
// (WEATHER_API_KEY, JWT_SECRET, DATABASE_URL, REDIS_URL) or the secrets file. Call from project root.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIKey = envOr("WEATHER_API_KEY", sec.WeatherAPIKey)
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")
	}
	cfg.JWTSecret = envOr("JWT_SECRET", sec.JWTSecret)
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET required (set env or config/secrets.yaml jwt_secret)")
	}
	cfg.DatabaseURL = envOr("DATABASE_URL", sec.DatabaseURL)
	cfg.RedisURL = envOr("REDIS_URL", sec.RedisURL)
	if cfg.RedisURL == "" {
		cfg.RedisURL = "redis://localhost:6379/0"
	}

	cfg.WeatherAPIURL = stringOr(fc.WeatherAPI.URL, "https://api.openweathermap.org/data/2.5/weather")
	cfg.OneCallURL = stringOr(fc.WeatherAPI.OneCallURL, "https://api.openweathermap.org/data/3.0/onecall")
	cfg.GeoURL = stringOr(fc.WeatherAPI.GeoURL, "https://api.openweathermap.org/geo/1.0/direct")
	cfg.WeatherProvider = lowerTrim(stringOr(fc.WeatherAPI.Provider, "current"))
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)

	cfg.CacheBackend = lowerTrim(os.Getenv("CACHE_BACKEND"))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = lowerTrim(fc.Cache.Backend)
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.RedisTimeout = parseDuration(fc.Cache.Redis.Timeout, 500*time.Millisecond)
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.StoreBackend = lowerTrim(os.Getenv("STORE_BACKEND"))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = lowerTrim(fc.Store.Backend)
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "memory"
	}
	cfg.StoreMaxConns = fc.Store.MaxConns

	cfg.TokenTTL = parseDuration(fc.Auth.TokenTTL, time.Hour)

	cfg.EventsEnabled = fc.Events.Enabled
	cfg.EventsBrokers = fc.Events.Brokers
	if brokers := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); brokers != "" {
		cfg.EventsBrokers = strings.Split(brokers, ",")
	}
	cfg.EventsTopic = stringOr(fc.Events.Topic, "weather-observations")
	cfg.EventsTimeout = parseDuration(fc.Events.Timeout, 5*time.Second)

	cfg.CollectorSchedule = strings.TrimSpace(fc.Collector.Schedule)
	if cfg.CollectorSchedule == "" {
		cfg.CollectorSchedule = "@every 15m"
	}
	cfg.CollectorTimeout = parseDuration(fc.Collector.Timeout, time.Minute)
	cfg.CollectorLocations = fc.Collector.Locations

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}
	cfg.BreakerFailureThreshold = fc.Reliability.BreakerFailureThreshold
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerOpenTimeout = parseDuration(fc.Reliability.BreakerOpenTimeout, 30*time.Second)

	cfg.CoalesceEnabled = fc.Coalesce.Enabled

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

func stringOr(s, fallback string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return fallback
}

func lowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// Raises RequestTimeout above WeatherAPITimeout so a fetch can resolve and call the provider.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("WEATHER_API_TIMEOUT must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + 5*time.Second
	}
	switch cfg.WeatherProvider {
	case "current", "onecall":
	default:
		return fmt.Errorf("weather_api.provider must be current or onecall, got %q", cfg.WeatherProvider)
	}
	switch cfg.CacheBackend {
	case "in_memory", "redis", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory, redis or memcached, got %q", cfg.CacheBackend)
	}
	switch cfg.StoreBackend {
	case "memory":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL required when store.backend is postgres")
		}
	default:
		return fmt.Errorf("store.backend must be memory or postgres, got %q", cfg.StoreBackend)
	}
	if cfg.EventsEnabled && len(cfg.EventsBrokers) == 0 {
		return fmt.Errorf("events.brokers required when events are enabled")
	}
	for i, loc := range cfg.CollectorLocations {
		if strings.TrimSpace(loc.City) == "" || strings.TrimSpace(loc.Country) == "" {
			return fmt.Errorf("collector.locations[%d] needs city and country", i)
		}
	}
	return nil
}
