package worker

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/purepulse/purepulse/internal/airquality"
	"github.com/purepulse/purepulse/internal/weather"
)

// AirQualityExtractor runs an air quality extraction.
type AirQualityExtractor interface {
	Extract(ctx context.Context, req airquality.Request) *airquality.Result
}

// WeatherExtractor runs a weather extraction.
type WeatherExtractor interface {
	Extract(ctx context.Context, req weather.Request) *weather.Result
}

// LocationLister lists every configured location.
type LocationLister interface {
	Names() []string
}

// SyncJob drives the extraction engines for a set of locations.
type SyncJob struct {
	config    SyncConfig
	logger    zerolog.Logger
	locations LocationLister

	// Engines (optional, nil if not configured)
	airQuality AirQualityExtractor
	weather    WeatherExtractor

	metrics *SyncMetrics
}

// SyncMetrics tracks sync job statistics.
type SyncMetrics struct {
	mu sync.RWMutex

	TotalRuns   int64
	PartialRuns int64
	FailedRuns  int64

	LastRunAt       time.Time
	LastRunStatus   int
	LastRunDuration time.Duration
	TotalDuration   time.Duration
}

// SyncJobConfig holds configuration for creating a SyncJob.
type SyncJobConfig struct {
	Config     SyncConfig
	Logger     zerolog.Logger
	Locations  LocationLister
	AirQuality AirQualityExtractor
	Weather    WeatherExtractor
}

// NewSyncJob creates a new sync job.
func NewSyncJob(cfg SyncJobConfig) *SyncJob {
	config := cfg.Config
	if config.Timeout <= 0 {
		config.Timeout = DefaultSyncConfig().Timeout
	}

	return &SyncJob{
		config:     config,
		logger:     cfg.Logger,
		locations:  cfg.Locations,
		airQuality: cfg.AirQuality,
		weather:    cfg.Weather,
		metrics:    &SyncMetrics{},
	}
}

// SyncResult contains the result of one sync run. A nil engine result means
// the engine was not part of the run.
type SyncResult struct {
	Target     Target
	Locations  []string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	AirQuality *airquality.Result
	Weather    *weather.Result
}

// Status returns the worst engine status of the run: 500, then 400, then
// 206. A run that drove no engine reports 200.
func (r *SyncResult) Status() int {
	status := http.StatusOK
	if r.AirQuality != nil {
		status = worseStatus(status, r.AirQuality.Status)
	}
	if r.Weather != nil {
		status = worseStatus(status, r.Weather.Status)
	}
	return status
}

func statusRank(status int) int {
	switch status {
	case http.StatusOK:
		return 0
	case http.StatusPartialContent:
		return 1
	case http.StatusBadRequest:
		return 2
	default:
		return 3
	}
}

func worseStatus(a, b int) int {
	if statusRank(b) > statusRank(a) {
		return b
	}
	return a
}

// Run executes the engines selected by target. Nil locations fall back to
// the configured locations, then to every known location. The engines run
// concurrently; they never share an archive.
func (j *SyncJob) Run(ctx context.Context, target Target, locations []string) *SyncResult {
	startTime := time.Now()
	if len(locations) == 0 {
		locations = j.defaultLocations()
	}
	result := &SyncResult{
		Target:    target,
		Locations: locations,
		StartTime: startTime,
	}

	j.logger.Info().
		Str("target", string(target)).
		Strs("locations", locations).
		Msg("starting sync job")

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	var wg sync.WaitGroup
	if target.airQuality() && j.airQuality != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result.AirQuality = j.airQuality.Extract(ctx, airquality.Request{Locations: locations})
		}()
	}
	if target.weather() && j.weather != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result.Weather = j.weather.Extract(ctx, weather.Request{
				Locations: locations,
				History:   j.config.History,
				Forecast:  j.config.Forecast,
				Units:     j.config.Units,
			})
		}()
	}
	wg.Wait()

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)

	j.updateMetrics(result)

	event := j.logger.Info()
	if result.Status() != http.StatusOK {
		event = j.logger.Warn()
	}
	if result.AirQuality != nil {
		event = event.Int("airquality_status", result.AirQuality.Status).Int("airquality_errors", len(result.AirQuality.Errors))
	}
	if result.Weather != nil {
		event = event.Int("weather_status", result.Weather.Status).Int("weather_errors", len(result.Weather.Errors))
	}
	event.
		Str("target", string(target)).
		Int("status", result.Status()).
		Dur("duration", result.Duration).
		Msg("sync job completed")

	return result
}

func (j *SyncJob) defaultLocations() []string {
	if len(j.config.Locations) > 0 {
		return j.config.Locations
	}
	if j.locations != nil {
		return j.locations.Names()
	}
	return nil
}

func (j *SyncJob) updateMetrics(result *SyncResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	status := result.Status()
	j.metrics.TotalRuns++
	switch status {
	case http.StatusOK:
	case http.StatusPartialContent:
		j.metrics.PartialRuns++
	default:
		j.metrics.FailedRuns++
	}
	j.metrics.LastRunAt = result.EndTime
	j.metrics.LastRunStatus = status
	j.metrics.LastRunDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *SyncJob) GetMetrics() SyncMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return SyncMetrics{
		TotalRuns:       j.metrics.TotalRuns,
		PartialRuns:     j.metrics.PartialRuns,
		FailedRuns:      j.metrics.FailedRuns,
		LastRunAt:       j.metrics.LastRunAt,
		LastRunStatus:   j.metrics.LastRunStatus,
		LastRunDuration: j.metrics.LastRunDuration,
		TotalDuration:   j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *SyncJob) MetricsSnapshot() map[string]any {
	m := j.GetMetrics()
	return map[string]any{
		"total_runs":        m.TotalRuns,
		"partial_runs":      m.PartialRuns,
		"failed_runs":       m.FailedRuns,
		"last_run_at":       m.LastRunAt,
		"last_run_status":   m.LastRunStatus,
		"last_run_duration": m.LastRunDuration.String(),
		"total_duration":    m.TotalDuration.String(),
	}
}
