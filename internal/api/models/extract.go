package models

import (
	"github.com/purepulse/purepulse/internal/airquality"
	"github.com/purepulse/purepulse/internal/weather"
)

// PurpleAirExtractRequest is the body of POST /v1/extract/purpleair.
type PurpleAirExtractRequest struct {
	Locations []string  `json:"locations"`
	Start     *DateTime `json:"start,omitempty"`
	End       *DateTime `json:"end,omitempty"`
}

// Validate returns field errors for an unusable range. Location validation
// is left to the engine, which reports it in the result.
func (r PurpleAirExtractRequest) Validate() []FieldError {
	if r.Start != nil && r.End != nil && !r.Start.Ptr().Before(*r.End.Ptr()) {
		return []FieldError{{Field: "end", Message: "must be after start", Code: CodeInvalid}}
	}
	return nil
}

// Engine converts the body into an engine request.
func (r PurpleAirExtractRequest) Engine() airquality.Request {
	return airquality.Request{
		Locations: r.Locations,
		Start:     r.Start.Ptr(),
		End:       r.End.Ptr(),
	}
}

// WundergroundExtractRequest is the body of POST /v1/extract/wunderground.
type WundergroundExtractRequest struct {
	Locations []string               `json:"locations"`
	History   []weather.HistoryMode  `json:"history"`
	Forecast  []weather.ForecastMode `json:"forecast_hourly"`
	Units     []weather.Units        `json:"units"`
	Start     *Date                  `json:"start,omitempty"`
	End       *Date                  `json:"end,omitempty"`
}

// Validate requires the history and forecast_hourly lists to be present;
// either may be empty.
func (r WundergroundExtractRequest) Validate() []FieldError {
	var errs []FieldError
	if r.History == nil {
		errs = append(errs, FieldError{Field: "history", Message: "required", Code: CodeRequired})
	}
	if r.Forecast == nil {
		errs = append(errs, FieldError{Field: "forecast_hourly", Message: "required", Code: CodeRequired})
	}
	if r.Start != nil && r.End != nil && r.End.Ptr().Before(*r.Start.Ptr()) {
		errs = append(errs, FieldError{Field: "end", Message: "must not be before start", Code: CodeInvalid})
	}
	return errs
}

// Engine converts the body into an engine request. Units default to metric.
func (r WundergroundExtractRequest) Engine() weather.Request {
	units := r.Units
	if len(units) == 0 {
		units = []weather.Units{weather.Metric}
	}
	return weather.Request{
		Locations: r.Locations,
		History:   r.History,
		Forecast:  r.Forecast,
		Units:     units,
		Start:     r.Start.Ptr(),
		End:       r.End.Ptr(),
	}
}
