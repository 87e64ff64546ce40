package worker_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purepulse/purepulse/internal/airquality"
	"github.com/purepulse/purepulse/internal/config"
	"github.com/purepulse/purepulse/internal/weather"
	"github.com/purepulse/purepulse/internal/worker"
)

type fakeAirQuality struct {
	mu     sync.Mutex
	status int
	reqs   []airquality.Request
}

func (f *fakeAirQuality) Extract(_ context.Context, req airquality.Request) *airquality.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return &airquality.Result{Status: f.status, Data: []airquality.SensorRef{}, Errors: []airquality.SensorError{}}
}

func (f *fakeAirQuality) calls() []airquality.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]airquality.Request(nil), f.reqs...)
}

type fakeWeather struct {
	mu     sync.Mutex
	status int
	reqs   []weather.Request
}

func (f *fakeWeather) Extract(_ context.Context, req weather.Request) *weather.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return &weather.Result{Status: f.status, Data: []weather.StationRef{}, Errors: []weather.StationError{}}
}

func (f *fakeWeather) calls() []weather.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]weather.Request(nil), f.reqs...)
}

type staticLocations []string

func (s staticLocations) Names() []string { return s }

func newJob(aq *fakeAirQuality, wx *fakeWeather, cfg worker.SyncConfig) *worker.SyncJob {
	return worker.NewSyncJob(worker.SyncJobConfig{
		Config:     cfg,
		Logger:     zerolog.Nop(),
		Locations:  staticLocations{"athens", "patras"},
		AirQuality: aq,
		Weather:    wx,
	})
}

func TestParseTarget(t *testing.T) {
	for _, s := range []string{"airquality_sync", "weather_sync", "full_sync"} {
		target, err := worker.ParseTarget(s)
		require.NoError(t, err)
		assert.Equal(t, worker.Target(s), target)
	}

	_, err := worker.ParseTarget("provider_refresh")
	assert.ErrorIs(t, err, worker.ErrUnknownTarget)
}

func TestDefaultSyncConfig(t *testing.T) {
	cfg := worker.DefaultSyncConfig()

	assert.Equal(t, []weather.HistoryMode{weather.HistoryHourly}, cfg.History)
	assert.Equal(t, []weather.ForecastMode{weather.Forecast2Day}, cfg.Forecast)
	assert.Equal(t, []weather.Units{weather.Metric}, cfg.Units)
	assert.Equal(t, 6*time.Hour, cfg.Timeout)
	assert.Empty(t, cfg.Locations)
}

func TestNewSyncConfig(t *testing.T) {
	cfg, err := worker.NewSyncConfig(config.WorkerConfig{
		Locations:     []string{"patras"},
		HistoryModes:  []string{"daily", "all"},
		ForecastModes: []string{"5day"},
		Units:         []string{"imperial", "m"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"patras"}, cfg.Locations)
	assert.Equal(t, []weather.HistoryMode{weather.HistoryDaily, weather.HistoryAll}, cfg.History)
	assert.Equal(t, []weather.ForecastMode{weather.Forecast5Day}, cfg.Forecast)
	assert.Equal(t, []weather.Units{weather.Imperial, weather.Metric}, cfg.Units)
}

func TestNewSyncConfig_InvalidMode(t *testing.T) {
	_, err := worker.NewSyncConfig(config.WorkerConfig{HistoryModes: []string{"weekly"}})
	assert.ErrorIs(t, err, weather.ErrInvalidMode)

	_, err = worker.NewSyncConfig(config.WorkerConfig{Units: []string{"kelvin"}})
	assert.ErrorIs(t, err, weather.ErrInvalidUnits)
}

func TestSyncJob_Run_Full(t *testing.T) {
	aq := &fakeAirQuality{status: http.StatusOK}
	wx := &fakeWeather{status: http.StatusOK}
	job := newJob(aq, wx, worker.DefaultSyncConfig())

	result := job.Run(context.Background(), worker.TargetAll, nil)

	assert.Equal(t, http.StatusOK, result.Status())
	assert.Equal(t, []string{"athens", "patras"}, result.Locations)
	require.NotNil(t, result.AirQuality)
	require.NotNil(t, result.Weather)
	assert.False(t, result.EndTime.Before(result.StartTime))

	require.Len(t, aq.calls(), 1)
	assert.Equal(t, []string{"athens", "patras"}, aq.calls()[0].Locations)
	assert.Nil(t, aq.calls()[0].Start)

	require.Len(t, wx.calls(), 1)
	req := wx.calls()[0]
	assert.Equal(t, []string{"athens", "patras"}, req.Locations)
	assert.Equal(t, []weather.HistoryMode{weather.HistoryHourly}, req.History)
	assert.Equal(t, []weather.Units{weather.Metric}, req.Units)
}

func TestSyncJob_Run_SingleTarget(t *testing.T) {
	aq := &fakeAirQuality{status: http.StatusOK}
	wx := &fakeWeather{status: http.StatusOK}
	job := newJob(aq, wx, worker.DefaultSyncConfig())

	result := job.Run(context.Background(), worker.TargetWeather, []string{"patras"})

	assert.Nil(t, result.AirQuality)
	require.NotNil(t, result.Weather)
	assert.Empty(t, aq.calls())
	require.Len(t, wx.calls(), 1)
	assert.Equal(t, []string{"patras"}, wx.calls()[0].Locations)
}

func TestSyncJob_Run_ConfiguredLocations(t *testing.T) {
	aq := &fakeAirQuality{status: http.StatusOK}
	cfg := worker.DefaultSyncConfig()
	cfg.Locations = []string{"volos"}
	job := newJob(aq, nil, cfg)

	result := job.Run(context.Background(), worker.TargetAirQuality, nil)

	assert.Equal(t, []string{"volos"}, result.Locations)
	require.Len(t, aq.calls(), 1)
	assert.Equal(t, []string{"volos"}, aq.calls()[0].Locations)
}

func TestSyncJob_Run_NoEngines(t *testing.T) {
	job := worker.NewSyncJob(worker.SyncJobConfig{Logger: zerolog.Nop()})

	result := job.Run(context.Background(), worker.TargetAll, []string{"patras"})

	assert.Equal(t, http.StatusOK, result.Status())
	assert.Nil(t, result.AirQuality)
	assert.Nil(t, result.Weather)
}

func TestSyncResult_StatusIsWorst(t *testing.T) {
	tests := []struct {
		aq, wx int
		want   int
	}{
		{http.StatusOK, http.StatusOK, http.StatusOK},
		{http.StatusOK, http.StatusPartialContent, http.StatusPartialContent},
		{http.StatusBadRequest, http.StatusPartialContent, http.StatusBadRequest},
		{http.StatusBadRequest, http.StatusInternalServerError, http.StatusInternalServerError},
		{http.StatusInternalServerError, http.StatusOK, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		r := &worker.SyncResult{
			AirQuality: &airquality.Result{Status: tt.aq},
			Weather:    &weather.Result{Status: tt.wx},
		}
		assert.Equal(t, tt.want, r.Status(), "aq=%d wx=%d", tt.aq, tt.wx)
	}
}

func TestSyncJob_Metrics(t *testing.T) {
	aq := &fakeAirQuality{status: http.StatusOK}
	wx := &fakeWeather{status: http.StatusPartialContent}
	job := newJob(aq, wx, worker.DefaultSyncConfig())

	job.Run(context.Background(), worker.TargetAirQuality, nil)
	job.Run(context.Background(), worker.TargetAll, nil)
	aq.status = http.StatusInternalServerError
	job.Run(context.Background(), worker.TargetAirQuality, nil)

	m := job.GetMetrics()
	assert.Equal(t, int64(3), m.TotalRuns)
	assert.Equal(t, int64(1), m.PartialRuns)
	assert.Equal(t, int64(1), m.FailedRuns)
	assert.Equal(t, http.StatusInternalServerError, m.LastRunStatus)
	assert.False(t, m.LastRunAt.IsZero())

	snapshot := job.MetricsSnapshot()
	assert.Equal(t, int64(3), snapshot["total_runs"])
	assert.Equal(t, http.StatusInternalServerError, snapshot["last_run_status"])
}
