// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/purepulse/purepulse/internal/archive"
)

// Layouts for timestamp settings.
const (
	StartTimestampLayout = "2006-01-02 15:04:05"
	StartDateLayout      = "2006-01-02"
)

// Config is the root configuration. It is read-only after Load returns.
type Config struct {
	Env         string
	Port        string
	DevicesFile string

	// RequireTLS rejects API requests forwarded over plain HTTP.
	RequireTLS bool

	Telemetry    TelemetryConfig
	Storage      StorageConfig
	PurpleAir    PurpleAirConfig
	Wunderground WundergroundConfig
	Worker       WorkerConfig
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
}

// StorageConfig holds the archive directory layout.
type StorageConfig struct {
	DataDir    string
	PMDir      string
	WeatherDir string
}

// Layout returns the archive path builder for this storage configuration.
func (s StorageConfig) Layout() archive.Layout {
	return archive.Layout{Root: s.DataDir, PMDir: s.PMDir, WeatherDir: s.WeatherDir}
}

// PurpleAirConfig holds PurpleAir extraction settings.
type PurpleAirConfig struct {
	APIKey  string
	BaseURL string

	// MaxRequestsPerKey is the number of successful requests after which the
	// engine pauses for ThrottlePause.
	MaxRequestsPerKey int
	ThrottlePause     time.Duration

	// StartTimestamp is used for sensors whose archive is empty.
	StartTimestamp time.Time

	// BatchDays is the span of one history request (1-14).
	BatchDays int

	// Average is the averaging interval in minutes.
	Average int

	Fields []string
}

// WundergroundConfig holds Weather Underground extraction settings.
type WundergroundConfig struct {
	APIKey  string
	BaseURL string

	// StartDate is used for history archives that are empty.
	StartDate time.Time

	// BatchDays is the planning span for history, one request per day.
	BatchDays int

	// ForecastFreshness is how long a fetched forecast stays current.
	ForecastFreshness time.Duration
}

// WorkerConfig holds scheduled and on-demand sync settings.
type WorkerConfig struct {
	SyncInterval  time.Duration
	Locations     []string
	HistoryModes  []string
	ForecastModes []string
	Units         []string

	PubSubProjectID    string
	PubSubSubscription string
}

// Load reads a .env file when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from environment variables.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Env:         getEnvOrDefault("APP_ENV", "development"),
		Port:        getEnvOrDefault("APP_PORT", "8080"),
		DevicesFile: getEnvOrDefault("DEVICES_FILE", "devices.yaml"),
		RequireTLS:  os.Getenv("REQUIRE_TLS") == "true",
		Telemetry: TelemetryConfig{
			Enabled:      os.Getenv("OTEL_ENABLED") == "true",
			OTLPEndpoint: getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		},
		Storage: StorageConfig{
			DataDir:    getEnvOrDefault("DATA_DIR", "data"),
			PMDir:      getEnvOrDefault("PM_DIR", "pm"),
			WeatherDir: getEnvOrDefault("WEATHER_DIR", "weather"),
		},
	}

	var err error
	if cfg.PurpleAir, err = purpleAirFromEnv(); err != nil {
		return nil, err
	}
	if cfg.Wunderground, err = wundergroundFromEnv(); err != nil {
		return nil, err
	}
	if cfg.Worker, err = workerFromEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func purpleAirFromEnv() (PurpleAirConfig, error) {
	cfg := PurpleAirConfig{
		APIKey:  os.Getenv("PURPLEAIR_API_KEY"),
		BaseURL: os.Getenv("PURPLEAIR_BASE_URL"),
		Fields:  splitList(getEnvOrDefault("PURPLEAIR_FIELDS", "humidity,temperature,pressure,pm1.0_atm,pm2.5_atm,pm10.0_atm")),
	}

	var err error
	if cfg.MaxRequestsPerKey, err = getEnvInt("PURPLEAIR_MAX_REQUESTS_PER_KEY", 900); err != nil {
		return cfg, err
	}
	if cfg.BatchDays, err = getEnvInt("PURPLEAIR_BATCH_DAYS", 14); err != nil {
		return cfg, err
	}
	if cfg.BatchDays < 1 || cfg.BatchDays > 14 {
		return cfg, fmt.Errorf("invalid PURPLEAIR_BATCH_DAYS: %d not in 1-14", cfg.BatchDays)
	}
	if cfg.Average, err = getEnvInt("PURPLEAIR_AVERAGE", 60); err != nil {
		return cfg, err
	}
	if cfg.ThrottlePause, err = getEnvDuration("PURPLEAIR_THROTTLE_PAUSE", 3*time.Second); err != nil {
		return cfg, err
	}

	start := getEnvOrDefault("PURPLEAIR_START_TIMESTAMP", "2021-01-01 00:00:00")
	if cfg.StartTimestamp, err = time.Parse(StartTimestampLayout, start); err != nil {
		return cfg, fmt.Errorf("invalid PURPLEAIR_START_TIMESTAMP: %w", err)
	}
	return cfg, nil
}

func wundergroundFromEnv() (WundergroundConfig, error) {
	cfg := WundergroundConfig{
		APIKey:  os.Getenv("WUNDERGROUND_API_KEY"),
		BaseURL: os.Getenv("WUNDERGROUND_BASE_URL"),
	}

	var err error
	if cfg.BatchDays, err = getEnvInt("WUNDERGROUND_BATCH_DAYS", 7); err != nil {
		return cfg, err
	}
	if cfg.BatchDays < 1 {
		return cfg, fmt.Errorf("invalid WUNDERGROUND_BATCH_DAYS: %d", cfg.BatchDays)
	}

	hours, err := getEnvInt("WUNDERGROUND_FORECAST_HOURLY_HOUR_SPAN", 24)
	if err != nil {
		return cfg, err
	}
	cfg.ForecastFreshness = time.Duration(hours) * time.Hour

	start := getEnvOrDefault("WUNDERGROUND_START_DATE", "2023-03-22")
	if cfg.StartDate, err = time.Parse(StartDateLayout, start); err != nil {
		return cfg, fmt.Errorf("invalid WUNDERGROUND_START_DATE: %w", err)
	}
	return cfg, nil
}

func workerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		Locations:          splitList(os.Getenv("SYNC_LOCATIONS")),
		HistoryModes:       splitList(os.Getenv("WUNDERGROUND_HISTORY")),
		ForecastModes:      splitList(os.Getenv("WUNDERGROUND_FORECAST_HOURLY")),
		Units:              splitList(getEnvOrDefault("WUNDERGROUND_UNITS", "m")),
		PubSubProjectID:    os.Getenv("PUBSUB_PROJECT_ID"),
		PubSubSubscription: os.Getenv("PUBSUB_SUBSCRIPTION"),
	}

	var err error
	cfg.SyncInterval, err = getEnvDuration("SYNC_INTERVAL", time.Hour)
	return cfg, err
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
