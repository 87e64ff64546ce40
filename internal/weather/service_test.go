package weather_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purepulse/purepulse/internal/archive"
	"github.com/purepulse/purepulse/internal/registry"
	"github.com/purepulse/purepulse/internal/weather"
)

const (
	stationID = "IPATRA12"
	geocode   = "38.25,21.73"
)

type historyCall struct {
	units weather.Units
	day   time.Time
}

// fakeProvider returns one observation at noon of the requested day and a
// two-hour forecast.
type fakeProvider struct {
	mu            sync.Mutex
	history       []historyCall
	forecasts     int
	failHistory   func(units weather.Units, day time.Time) error
	emptyDays     map[time.Time]bool
	forecastTable func() *archive.Table
	panicForecast bool
}

func (f *fakeProvider) FetchHistory(_ context.Context, station string, _ weather.HistoryMode, units weather.Units, day time.Time) (*archive.Table, error) {
	f.mu.Lock()
	f.history = append(f.history, historyCall{units: units, day: day})
	f.mu.Unlock()

	if f.failHistory != nil {
		if err := f.failHistory(units, day); err != nil {
			return nil, err
		}
	}
	table := archive.NewTable("stationID", weather.HistoryKeyColumn, units.Marker()+".tempAvg")
	if f.emptyDays[day] {
		return table, nil
	}
	table.Append(station, day.Add(12*time.Hour).Format(weather.HistoryLayout), "9.5")
	return table, nil
}

func (f *fakeProvider) FetchForecast(_ context.Context, geo string, _ weather.ForecastMode, _ weather.Units) (*archive.Table, error) {
	f.mu.Lock()
	f.forecasts++
	f.mu.Unlock()

	if f.panicForecast {
		panic("forecast exploded")
	}
	if geo != geocode {
		return nil, errors.New("unexpected geocode " + geo)
	}
	if f.forecastTable != nil {
		return f.forecastTable(), nil
	}
	table := archive.NewTable("temperature", weather.ForecastKeyColumn)
	table.Append("10", "2024-01-03T13:00:00+0200")
	table.Append("11", "2024-01-03T14:00:00+0200")
	return table, nil
}

func (f *fakeProvider) days() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, 0, len(f.history))
	for _, c := range f.history {
		out = append(out, c.day)
	}
	return out
}

var (
	defaultStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fixedNow     = time.Date(2024, 1, 3, 10, 30, 0, 0, time.UTC)
)

func date(day int) time.Time {
	return time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)
}

func testRegistry() *registry.Registry {
	return registry.New(map[string]registry.Location{
		"patras": {Stations: []registry.Station{{ID: stationID, Geocode: geocode}}},
	})
}

func newEngine(t *testing.T, provider weather.Provider) (*weather.Engine, archive.Layout) {
	t.Helper()
	layout := archive.Layout{Root: t.TempDir(), PMDir: "pm", WeatherDir: "weather"}
	engine := weather.NewEngine(weather.EngineConfig{
		Provider:          provider,
		Resolver:          testRegistry(),
		Layout:            layout,
		DefaultStart:      defaultStart,
		BatchDays:         7,
		ForecastFreshness: 24 * time.Hour,
		Logger:            zerolog.Nop(),
		Now:               func() time.Time { return fixedNow },
	})
	return engine, layout
}

func historyPath(layout archive.Layout, units weather.Units) string {
	return layout.Station("patras", stationID, weather.HistoryFile(weather.HistoryHourly, units))
}

func forecastPath(layout archive.Layout) string {
	return layout.Station("patras", stationID, weather.ForecastFile(weather.Forecast1Day, weather.Metric))
}

func writeArchive(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readArchive(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func historyRequest() weather.Request {
	return weather.Request{
		Locations: []string{"patras"},
		History:   []weather.HistoryMode{weather.HistoryHourly},
		Units:     []weather.Units{weather.Metric},
	}
}

func TestEngine_HistoryFromDefaultStart(t *testing.T) {
	provider := &fakeProvider{}
	engine, layout := newEngine(t, provider)

	res := engine.Extract(context.Background(), historyRequest())

	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, []weather.StationRef{{Location: "patras", Station: stationID}}, res.Data)
	assert.Empty(t, res.Errors)

	assert.Equal(t, []time.Time{date(1), date(2), date(3)}, provider.days(), "one request per day through today")
	assert.Equal(t,
		"stationID,obsTimeUtc,tempAvg\n"+
			"IPATRA12,2024-01-01T12:00:00Z,9.5\n"+
			"IPATRA12,2024-01-02T12:00:00Z,9.5\n"+
			"IPATRA12,2024-01-03T12:00:00Z,9.5\n",
		readArchive(t, historyPath(layout, weather.Metric)),
		"unit marker stripped from column names")
}

func TestEngine_HistoryResumesFromLastDate(t *testing.T) {
	provider := &fakeProvider{}
	engine, layout := newEngine(t, provider)
	writeArchive(t, historyPath(layout, weather.Metric),
		"stationID,obsTimeUtc,tempAvg\n"+
			"IPATRA12,2024-01-01T12:00:00Z,9.5\n"+
			"IPATRA12,2024-01-02T12:00:00Z,9.5\n")

	res := engine.Extract(context.Background(), historyRequest())

	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, []time.Time{date(2), date(3)}, provider.days())
	assert.Equal(t,
		"stationID,obsTimeUtc,tempAvg\n"+
			"IPATRA12,2024-01-01T12:00:00Z,9.5\n"+
			"IPATRA12,2024-01-02T12:00:00Z,9.5\n"+
			"IPATRA12,2024-01-03T12:00:00Z,9.5\n",
		readArchive(t, historyPath(layout, weather.Metric)),
		"the overlapping day is deduplicated")
}

func TestEngine_HistoryBackfillIsSorted(t *testing.T) {
	provider := &fakeProvider{}
	engine, layout := newEngine(t, provider)
	writeArchive(t, historyPath(layout, weather.Metric),
		"stationID,obsTimeUtc,tempAvg\nIPATRA12,2024-01-03T12:00:00Z,9.5\n")

	start, end := date(1), date(2)
	req := historyRequest()
	req.Start = &start
	req.End = &end

	res := engine.Extract(context.Background(), req)

	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, []time.Time{date(1), date(2)}, provider.days())
	assert.Equal(t,
		"stationID,obsTimeUtc,tempAvg\n"+
			"IPATRA12,2024-01-01T12:00:00Z,9.5\n"+
			"IPATRA12,2024-01-02T12:00:00Z,9.5\n"+
			"IPATRA12,2024-01-03T12:00:00Z,9.5\n",
		readArchive(t, historyPath(layout, weather.Metric)))
}

func TestEngine_HistoryUnsortedArchiveIsSorted(t *testing.T) {
	provider := &fakeProvider{}
	engine, layout := newEngine(t, provider)
	writeArchive(t, historyPath(layout, weather.Metric),
		"stationID,obsTimeUtc,tempAvg\n"+
			"IPATRA12,2024-01-03T06:00:00Z,8.0\n"+
			"IPATRA12,2024-01-02T06:00:00Z,7.0\n")

	res := engine.Extract(context.Background(), historyRequest())

	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, []time.Time{date(3)}, provider.days())
	assert.Equal(t,
		"stationID,obsTimeUtc,tempAvg\n"+
			"IPATRA12,2024-01-02T06:00:00Z,7.0\n"+
			"IPATRA12,2024-01-03T06:00:00Z,8.0\n"+
			"IPATRA12,2024-01-03T12:00:00Z,9.5\n",
		readArchive(t, historyPath(layout, weather.Metric)))
}

func TestEngine_HistoryEmptyDayIsSkipped(t *testing.T) {
	provider := &fakeProvider{emptyDays: map[time.Time]bool{date(2): true}}
	engine, layout := newEngine(t, provider)

	res := engine.Extract(context.Background(), historyRequest())

	assert.Equal(t, http.StatusOK, res.Status)
	assert.Len(t, provider.days(), 3)
	assert.Equal(t,
		"stationID,obsTimeUtc,tempAvg\n"+
			"IPATRA12,2024-01-01T12:00:00Z,9.5\n"+
			"IPATRA12,2024-01-03T12:00:00Z,9.5\n",
		readArchive(t, historyPath(layout, weather.Metric)))
}

func TestEngine_HistoryErrorAbortsOnlyThatCombination(t *testing.T) {
	provider := &fakeProvider{
		failHistory: func(units weather.Units, day time.Time) error {
			if units == weather.Imperial && day.Equal(date(2)) {
				return weather.ErrProviderUnavailable
			}
			return nil
		},
	}
	engine, layout := newEngine(t, provider)

	req := historyRequest()
	req.Units = []weather.Units{weather.Imperial, weather.Metric}
	res := engine.Extract(context.Background(), req)

	assert.Equal(t, http.StatusPartialContent, res.Status)
	assert.Equal(t, []weather.StationRef{{Location: "patras", Station: stationID}}, res.Data)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, stationID, res.Errors[0].Station)
	assert.Equal(t, "patras", res.Errors[0].Location)
	assert.Equal(t, "hourly", res.Errors[0].Mode)
	assert.Equal(t, "e", res.Errors[0].Units)
	assert.Contains(t, res.Errors[0].Error, "2024-01-02")

	assert.Equal(t,
		"stationID,obsTimeUtc,tempAvg\nIPATRA12,2024-01-01T12:00:00Z,9.5\n",
		readArchive(t, historyPath(layout, weather.Imperial)),
		"rows before the failure are kept")
	assert.Contains(t, readArchive(t, historyPath(layout, weather.Metric)), "2024-01-03T12:00:00Z")
}

func TestEngine_HistoryCombinationsRunBeforeForecasts(t *testing.T) {
	provider := &fakeProvider{
		failHistory: func(weather.Units, time.Time) error {
			return weather.ErrProviderUnavailable
		},
		forecastTable: func() *archive.Table {
			table := archive.NewTable("temperature")
			table.Append("10")
			return table
		},
	}
	engine, _ := newEngine(t, provider)

	res := engine.Extract(context.Background(), weather.Request{
		Locations: []string{"patras"},
		History:   []weather.HistoryMode{weather.HistoryHourly},
		Forecast:  []weather.ForecastMode{weather.Forecast1Day},
		Units:     []weather.Units{weather.Metric, weather.Imperial},
	})

	type combination struct{ mode, units string }
	var got []combination
	for _, e := range res.Errors {
		got = append(got, combination{e.Mode, e.Units})
	}
	assert.Equal(t, []combination{
		{"hourly", "m"},
		{"hourly", "e"},
		{"1day", "m"},
		{"1day", "e"},
	}, got)
}

func forecastRequest() weather.Request {
	return weather.Request{
		Locations: []string{"patras"},
		Forecast:  []weather.ForecastMode{weather.Forecast1Day},
		Units:     []weather.Units{weather.Metric},
	}
}

func TestEngine_ForecastInsertsReferenceColumn(t *testing.T) {
	provider := &fakeProvider{}
	engine, layout := newEngine(t, provider)

	res := engine.Extract(context.Background(), forecastRequest())

	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, 1, provider.forecasts)
	assert.Empty(t, provider.days())
	assert.Equal(t,
		"temperature,referenceDatetimeLocal,validTimeLocal\n"+
			"10,2024-01-03T13:00:00+0200,2024-01-03T13:00:00+0200\n"+
			"11,2024-01-03T13:00:00+0200,2024-01-03T14:00:00+0200\n",
		readArchive(t, forecastPath(layout)))
}

func TestEngine_ForecastFreshness(t *testing.T) {
	tests := []struct {
		name      string
		reference string
		wantCalls int
	}{
		{name: "current forecast is skipped", reference: "2024-01-03T08:00:00+0200", wantCalls: 0},
		{name: "window boundary is still current", reference: "2024-01-02T12:30:00+0200", wantCalls: 0},
		{name: "stale forecast is refreshed", reference: "2024-01-02T08:00:00+0200", wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{}
			engine, layout := newEngine(t, provider)
			writeArchive(t, forecastPath(layout),
				"temperature,referenceDatetimeLocal,validTimeLocal\n"+
					"9,"+tt.reference+","+tt.reference+"\n")

			res := engine.Extract(context.Background(), forecastRequest())

			assert.Equal(t, http.StatusOK, res.Status)
			assert.Equal(t, tt.wantCalls, provider.forecasts)
		})
	}
}

func TestEngine_ForecastDedupsAndSorts(t *testing.T) {
	provider := &fakeProvider{}
	engine, layout := newEngine(t, provider)
	writeArchive(t, forecastPath(layout),
		"temperature,referenceDatetimeLocal,validTimeLocal\n"+
			"12,2024-01-02T08:00:00+0200,2024-01-03T14:00:00+0200\n"+
			"13,2024-01-02T08:00:00+0200,2024-01-03T15:00:00+0200\n")

	res := engine.Extract(context.Background(), forecastRequest())

	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t,
		"temperature,referenceDatetimeLocal,validTimeLocal\n"+
			"10,2024-01-03T13:00:00+0200,2024-01-03T13:00:00+0200\n"+
			"12,2024-01-02T08:00:00+0200,2024-01-03T14:00:00+0200\n"+
			"13,2024-01-02T08:00:00+0200,2024-01-03T15:00:00+0200\n",
		readArchive(t, forecastPath(layout)),
		"archived rows win over re-forecast hours")
}

func TestEngine_ForecastWithoutValidTimeIsSchemaError(t *testing.T) {
	provider := &fakeProvider{forecastTable: func() *archive.Table {
		table := archive.NewTable("temperature")
		table.Append("10")
		return table
	}}
	engine, _ := newEngine(t, provider)

	res := engine.Extract(context.Background(), forecastRequest())

	assert.Equal(t, http.StatusPartialContent, res.Status)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "1day", res.Errors[0].Mode)
	assert.Equal(t, "m", res.Errors[0].Units)
	assert.Contains(t, res.Errors[0].Error, weather.ForecastKeyColumn)
}

func TestEngine_Validation(t *testing.T) {
	tests := []struct {
		name      string
		locations []string
		wantErr   string
	}{
		{name: "empty", locations: nil, wantErr: "locations list cannot be empty"},
		{name: "unknown", locations: []string{"patras", "mars"}, wantErr: "invalid location: mars"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{}
			engine, _ := newEngine(t, provider)

			req := historyRequest()
			req.Locations = tt.locations
			res := engine.Extract(context.Background(), req)

			assert.Equal(t, http.StatusBadRequest, res.Status)
			assert.Empty(t, res.Data)
			require.Len(t, res.Errors, 1)
			assert.Equal(t, tt.wantErr, res.Errors[0].Error)
			assert.Empty(t, provider.days(), "no request issued")
		})
	}
}

func TestEngine_CancelledContextIsStationError(t *testing.T) {
	provider := &fakeProvider{}
	engine, _ := newEngine(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := historyRequest()
	req.Forecast = []weather.ForecastMode{weather.Forecast1Day}
	res := engine.Extract(ctx, req)

	assert.Equal(t, http.StatusPartialContent, res.Status)
	assert.Equal(t, []weather.StationRef{{Location: "patras", Station: stationID}}, res.Data)
	require.Len(t, res.Errors, 1, "recorded once per station")
	assert.Empty(t, res.Errors[0].Mode)
	assert.Equal(t, "failed to process station: context canceled", res.Errors[0].Error)
}

func TestEngine_PanicIsInternalError(t *testing.T) {
	provider := &fakeProvider{panicForecast: true}
	engine, layout := newEngine(t, provider)

	req := historyRequest()
	req.Forecast = []weather.ForecastMode{weather.Forecast1Day}
	res := engine.Extract(context.Background(), req)

	assert.Equal(t, http.StatusInternalServerError, res.Status)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[len(res.Errors)-1].Error, "forecast exploded")
	assert.Contains(t, readArchive(t, historyPath(layout, weather.Metric)), "2024-01-03T12:00:00Z",
		"history written before the panic is kept")
}
