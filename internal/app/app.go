// Package app wires the extraction engines from configuration. The API
// server, the worker and the CLI share it.
package app

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/purepulse/purepulse/internal/airquality"
	"github.com/purepulse/purepulse/internal/airquality/purpleair"
	"github.com/purepulse/purepulse/internal/archive"
	"github.com/purepulse/purepulse/internal/config"
	"github.com/purepulse/purepulse/internal/registry"
	"github.com/purepulse/purepulse/internal/telemetry"
	"github.com/purepulse/purepulse/internal/transport"
	"github.com/purepulse/purepulse/internal/weather"
	"github.com/purepulse/purepulse/internal/weather/wunderground"
)

// Components are the wired engines and their shared state.
type Components struct {
	Devices    *registry.Registry
	Providers  *transport.Registry
	AirQuality *airquality.Engine
	Weather    *weather.Engine
}

// Build loads the device registry and wires both engines. The engines share
// one archive locker, so concurrent runs never interleave writes to a file.
func Build(cfg *config.Config, logger zerolog.Logger) (*Components, error) {
	devices, err := registry.Load(cfg.DevicesFile)
	if err != nil {
		return nil, err
	}

	syncMetrics, err := telemetry.NewSyncMetrics()
	if err != nil {
		return nil, fmt.Errorf("initialize sync metrics: %w", err)
	}

	providers := transport.NewRegistry()
	locker := &archive.Locker{}
	layout := cfg.Storage.Layout()

	aqLogger := logger.With().Str("component", airquality.ProviderName).Logger()
	purpleAirClient := purpleair.NewClient(purpleair.ClientConfig{
		BaseURL:  cfg.PurpleAir.BaseURL,
		APIKey:   cfg.PurpleAir.APIKey,
		Average:  cfg.PurpleAir.Average,
		Fields:   cfg.PurpleAir.Fields,
		Registry: providers,
		Metrics:  syncMetrics,
		Logger:   aqLogger,
	})
	airQualityEngine := airquality.NewEngine(airquality.EngineConfig{
		Provider:          purpleAirClient,
		Resolver:          devices,
		Layout:            layout,
		Locker:            locker,
		DefaultStart:      cfg.PurpleAir.StartTimestamp,
		BatchDays:         cfg.PurpleAir.BatchDays,
		Average:           time.Duration(cfg.PurpleAir.Average) * time.Minute,
		MaxRequestsPerKey: cfg.PurpleAir.MaxRequestsPerKey,
		ThrottlePause:     cfg.PurpleAir.ThrottlePause,
		Metrics:           syncMetrics,
		Logger:            aqLogger,
	})

	wxLogger := logger.With().Str("component", weather.ProviderName).Logger()
	wundergroundClient := wunderground.NewClient(wunderground.ClientConfig{
		BaseURL:  cfg.Wunderground.BaseURL,
		APIKey:   cfg.Wunderground.APIKey,
		Registry: providers,
		Metrics:  syncMetrics,
		Logger:   wxLogger,
	})
	weatherEngine := weather.NewEngine(weather.EngineConfig{
		Provider:          wundergroundClient,
		Resolver:          devices,
		Layout:            layout,
		Locker:            locker,
		DefaultStart:      cfg.Wunderground.StartDate,
		BatchDays:         cfg.Wunderground.BatchDays,
		ForecastFreshness: cfg.Wunderground.ForecastFreshness,
		Metrics:           syncMetrics,
		Logger:            wxLogger,
	})

	return &Components{
		Devices:    devices,
		Providers:  providers,
		AirQuality: airQualityEngine,
		Weather:    weatherEngine,
	}, nil
}
