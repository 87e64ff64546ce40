// Package weather incrementally syncs Weather Underground station history
// and hourly forecasts into per-station CSV archives.
package weather

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/purepulse/purepulse/internal/archive"
	"github.com/purepulse/purepulse/internal/registry"
)

// Archive key columns and their textual layouts.
const (
	HistoryKeyColumn   = "obsTimeUtc"
	HistoryLayout      = "2006-01-02T15:04:05Z07:00"
	ForecastKeyColumn  = "validTimeLocal"
	ReferenceColumn    = "referenceDatetimeLocal"
	ForecastLayout     = "2006-01-02T15:04:05Z0700"
	RequestDateLayout  = "20060102"
	RequestDateDisplay = "2006-01-02"
)

// Weather errors.
var (
	ErrProviderUnavailable = errors.New("weather provider unavailable")
	ErrInvalidMode         = errors.New("invalid mode")
	ErrInvalidUnits        = errors.New("invalid units")
)

// HistoryMode selects the PWS history endpoint.
type HistoryMode int

const (
	HistoryHourly HistoryMode = iota + 1
	HistoryDaily
	HistoryAll
)

var historyModes = map[HistoryMode]string{
	HistoryHourly: "hourly",
	HistoryDaily:  "daily",
	HistoryAll:    "all",
}

func (m HistoryMode) String() string {
	return historyModes[m]
}

// ParseHistoryMode parses hourly, daily or all.
func ParseHistoryMode(s string) (HistoryMode, error) {
	for m, name := range historyModes {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: history %q", ErrInvalidMode, s)
}

// MarshalText implements encoding.TextMarshaler.
func (m HistoryMode) MarshalText() ([]byte, error) {
	if _, ok := historyModes[m]; !ok {
		return nil, fmt.Errorf("%w: history %d", ErrInvalidMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *HistoryMode) UnmarshalText(b []byte) error {
	v, err := ParseHistoryMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ForecastMode selects the hourly forecast horizon.
type ForecastMode int

const (
	Forecast1Day ForecastMode = iota + 1
	Forecast2Day
	Forecast3Day
	Forecast5Day
	Forecast10Day
	Forecast15Day
)

var forecastModes = map[ForecastMode]string{
	Forecast1Day:  "1day",
	Forecast2Day:  "2day",
	Forecast3Day:  "3day",
	Forecast5Day:  "5day",
	Forecast10Day: "10day",
	Forecast15Day: "15day",
}

func (m ForecastMode) String() string {
	return forecastModes[m]
}

// ParseForecastMode parses 1day, 2day, 3day, 5day, 10day or 15day.
func ParseForecastMode(s string) (ForecastMode, error) {
	for m, name := range forecastModes {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: forecast %q", ErrInvalidMode, s)
}

// MarshalText implements encoding.TextMarshaler.
func (m ForecastMode) MarshalText() ([]byte, error) {
	if _, ok := forecastModes[m]; !ok {
		return nil, fmt.Errorf("%w: forecast %d", ErrInvalidMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ForecastMode) UnmarshalText(b []byte) error {
	v, err := ParseForecastMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Units is the measurement system. The canonical encoding is the API's
// single-letter code.
type Units int

const (
	Metric Units = iota + 1
	Imperial
)

func (u Units) String() string {
	switch u {
	case Metric:
		return "m"
	case Imperial:
		return "e"
	default:
		return ""
	}
}

// Marker is the name of the nested object holding unit-dependent values in
// history observations.
func (u Units) Marker() string {
	switch u {
	case Metric:
		return "metric"
	case Imperial:
		return "imperial"
	default:
		return ""
	}
}

// ParseUnits accepts m, e, metric and imperial.
func ParseUnits(s string) (Units, error) {
	switch s {
	case "m", "metric":
		return Metric, nil
	case "e", "imperial":
		return Imperial, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidUnits, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (u Units) MarshalText() ([]byte, error) {
	if u.String() == "" {
		return nil, fmt.Errorf("%w: %d", ErrInvalidUnits, int(u))
	}
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *Units) UnmarshalText(b []byte) error {
	v, err := ParseUnits(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// HistoryFile is the archive file name for a history mode and units.
func HistoryFile(mode HistoryMode, units Units) string {
	return fmt.Sprintf("history_%s_%s.csv", mode, units)
}

// ForecastFile is the archive file name for a forecast mode and units.
func ForecastFile(mode ForecastMode, units Units) string {
	return fmt.Sprintf("forecast_hourly_%s_%s.csv", mode, units)
}

// Provider fetches station data from the weather API.
type Provider interface {
	// FetchHistory returns the observations of one day. A day without data
	// yields an empty table.
	FetchHistory(ctx context.Context, stationID string, mode HistoryMode, units Units, day time.Time) (*archive.Table, error)

	// FetchForecast returns the current hourly forecast for a geocode.
	FetchForecast(ctx context.Context, geocode string, mode ForecastMode, units Units) (*archive.Table, error)
}

// Resolver maps location names to their configured devices.
type Resolver interface {
	ResolveAll(names []string) ([]registry.Location, error)
}

// Request is an extraction request. Start and End are calendar dates; nil
// bounds fall back to the archive state and the configured defaults.
type Request struct {
	Locations []string
	History   []HistoryMode
	Forecast  []ForecastMode
	Units     []Units
	Start     *time.Time
	End       *time.Time
}

// StationRef identifies a processed station.
type StationRef struct {
	Location string `json:"location"`
	Station  string `json:"station"`
}

// StationError is one failure record. Mode and Units are set for failures
// of a single archive; station-level and validation failures omit them.
type StationError struct {
	Station  string `json:"station,omitempty"`
	Location string `json:"location,omitempty"`
	Mode     string `json:"mode,omitempty"`
	Units    string `json:"units,omitempty"`
	Error    string `json:"error"`
}

// Result aggregates one extraction run.
type Result struct {
	Status int            `json:"status"`
	Data   []StationRef   `json:"data"`
	Errors []StationError `json:"errors"`
}

func newResult() *Result {
	return &Result{Data: []StationRef{}, Errors: []StationError{}}
}

func (r *Result) finish() *Result {
	r.Status = http.StatusOK
	if len(r.Errors) > 0 {
		r.Status = http.StatusPartialContent
	}
	return r
}

func (r *Result) fail(status int, err error) *Result {
	r.Status = status
	r.Errors = append(r.Errors, StationError{Error: err.Error()})
	return r
}
