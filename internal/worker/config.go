// Package worker runs extractions on a schedule and on demand for PurePulse.
package worker

import (
	"errors"
	"fmt"
	"time"

	"github.com/purepulse/purepulse/internal/config"
	"github.com/purepulse/purepulse/internal/weather"
)

// ErrUnknownTarget is returned for job types the worker does not handle.
var ErrUnknownTarget = errors.New("unknown job type")

// Target selects which engines a sync run drives.
type Target string

const (
	TargetAirQuality Target = "airquality_sync"
	TargetWeather    Target = "weather_sync"
	TargetAll        Target = "full_sync"
)

// ParseTarget maps a job type to a Target.
func ParseTarget(jobType string) (Target, error) {
	switch t := Target(jobType); t {
	case TargetAirQuality, TargetWeather, TargetAll:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTarget, jobType)
	}
}

func (t Target) airQuality() bool { return t == TargetAirQuality || t == TargetAll }
func (t Target) weather() bool    { return t == TargetWeather || t == TargetAll }

// SyncConfig holds configuration for sync runs.
type SyncConfig struct {
	// Locations are synced when a run names none. If empty, every location
	// known to the registry is synced.
	Locations []string

	// History, Forecast and Units drive the weather engine.
	History  []weather.HistoryMode
	Forecast []weather.ForecastMode
	Units    []weather.Units

	// Timeout bounds one run.
	// Default: 6 hours
	Timeout time.Duration
}

// DefaultSyncConfig returns the default sync configuration: hourly history
// and a 2-day hourly forecast in metric units.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		History:  []weather.HistoryMode{weather.HistoryHourly},
		Forecast: []weather.ForecastMode{weather.Forecast2Day},
		Units:    []weather.Units{weather.Metric},
		Timeout:  6 * time.Hour,
	}
}

// NewSyncConfig builds a SyncConfig from the worker settings. Unset mode
// lists keep their defaults.
func NewSyncConfig(cfg config.WorkerConfig) (SyncConfig, error) {
	out := DefaultSyncConfig()
	out.Locations = cfg.Locations

	if len(cfg.HistoryModes) > 0 {
		out.History = out.History[:0]
		for _, s := range cfg.HistoryModes {
			m, err := weather.ParseHistoryMode(s)
			if err != nil {
				return out, fmt.Errorf("worker history: %w", err)
			}
			out.History = append(out.History, m)
		}
	}
	if len(cfg.ForecastModes) > 0 {
		out.Forecast = out.Forecast[:0]
		for _, s := range cfg.ForecastModes {
			m, err := weather.ParseForecastMode(s)
			if err != nil {
				return out, fmt.Errorf("worker forecast: %w", err)
			}
			out.Forecast = append(out.Forecast, m)
		}
	}
	if len(cfg.Units) > 0 {
		out.Units = out.Units[:0]
		for _, s := range cfg.Units {
			u, err := weather.ParseUnits(s)
			if err != nil {
				return out, fmt.Errorf("worker units: %w", err)
			}
			out.Units = append(out.Units, u)
		}
	}
	return out, nil
}
